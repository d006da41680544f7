package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-panel/internal/models"
)

const testUserID = "550e8400-e29b-41d4-a716-446655440000"

func setupMock(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "status", "subscription_provider",
		"subscription_expires_at", "created_at", "updated_at"})
}

func TestStorage_GetUser(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := created.AddDate(0, 0, 30)

	tests := []struct {
		name      string
		setup     func(mock sqlmock.Sqlmock)
		wantErr   error
		checkUser func(t *testing.T, u *models.User)
	}{
		{
			name: "пользователь в пробном периоде",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
					WithArgs(testUserID).
					WillReturnRows(userRows().AddRow(testUserID, "a@example.com", "trial", nil, expires, created, created))
			},
			checkUser: func(t *testing.T, u *models.User) {
				assert.Equal(t, models.StatusTrial, u.Status)
				assert.Empty(t, u.Subscription.Provider)
				require.NotNil(t, u.Subscription.ExpiresAt)
				assert.True(t, expires.Equal(*u.Subscription.ExpiresAt))
			},
		},
		{
			name: "активный пользователь без даты окончания",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
					WithArgs(testUserID).
					WillReturnRows(userRows().AddRow(testUserID, "a@example.com", "active", "paypal", nil, created, created))
			},
			checkUser: func(t *testing.T, u *models.User) {
				assert.True(t, u.IsActive())
				assert.Equal(t, models.ProviderPayPal, u.Subscription.Provider)
				assert.Nil(t, u.Subscription.ExpiresAt)
			},
		},
		{
			name: "пользователь не найден",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
					WithArgs(testUserID).
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, mock := setupMock(t)
			tt.setup(mock)

			u, err := storage.GetUser(context.Background(), testUserID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, u)
			} else {
				require.NoError(t, err)
				tt.checkUser(t, u)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_GetUserByEmail(t *testing.T) {
	storage, mock := setupMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE lower(email) = lower($1)`)).
		WithArgs("A@Example.com").
		WillReturnRows(userRows().AddRow(testUserID, "a@example.com", "trial", nil, nil, now, now))

	u, err := storage.GetUserByEmail(context.Background(), "A@Example.com")
	require.NoError(t, err)
	assert.Equal(t, testUserID, u.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ActivateUser(t *testing.T) {
	storage, mock := setupMock(t)
	expires := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users`)).
		WithArgs(models.StatusActive, "stripe", expires, testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := storage.ActivateUser(context.Background(), testUserID, models.ProviderStripe, &expires)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ActivateUser_CanceledContext(t *testing.T) {
	storage, mock := setupMock(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.ActivateUser(ctx, testUserID, models.ProviderStripe, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ExtendUser(t *testing.T) {
	storage, mock := setupMock(t)
	expires := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM provider_subscriptions ps`)).
		WithArgs(models.StatusActive, "stripe", expires, "sub_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testUserID))

	userID, err := storage.ExtendUser(context.Background(), models.ProviderStripe, "sub_1", expires)
	require.NoError(t, err)
	assert.Equal(t, testUserID, userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ExtendUser_NothingToExtend(t *testing.T) {
	storage, mock := setupMock(t)
	expires := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM provider_subscriptions ps`)).
		WithArgs(models.StatusActive, "paypal", expires, "I-SUB1").
		WillReturnError(sql.ErrNoRows)

	_, err := storage.ExtendUser(context.Background(), models.ProviderPayPal, "I-SUB1", expires)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ExpireSubscriptions(t *testing.T) {
	storage, mock := setupMock(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`RETURNING id`)).
		WithArgs(models.StatusInactive, models.StatusActive, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1").AddRow("u2"))

	ids, err := storage.ExpireSubscriptions(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_FindTrialsExpiringBetween(t *testing.T) {
	storage, mock := setupMock(t)
	from := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY subscription_expires_at`)).
		WithArgs(models.StatusTrial, from, to).
		WillReturnRows(userRows().
			AddRow("u1", "one@example.com", "trial", nil, from.Add(time.Hour), from, from).
			AddRow("u2", "two@example.com", "trial", nil, from.Add(5*time.Hour), from, from))

	users, err := storage.FindTrialsExpiringBetween(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "two@example.com", users[1].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetSession(t *testing.T) {
	storage, mock := setupMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM sessions WHERE id = $1`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at"}).
			AddRow("s1", testUserID, now.Add(time.Hour), now))

	sess, err := storage.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, testUserID, sess.UserID)
	assert.False(t, sess.Expired(now))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM sessions WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = storage.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_UpsertProviderSubscription(t *testing.T) {
	storage, mock := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (provider, external_id) DO UPDATE`)).
		WithArgs("stripe", "sub_123", testUserID, models.ProviderSubscriptionActive, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := storage.UpsertProviderSubscription(context.Background(), models.ProviderSubscription{
		Provider:   models.ProviderStripe,
		ExternalID: "sub_123",
		UserID:     testUserID,
		Status:     models.ProviderSubscriptionActive,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_UpdateProviderSubscription(t *testing.T) {
	storage, mock := setupMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE provider_subscriptions`)).
		WithArgs(models.ProviderSubscriptionCanceled, nil, "paypal", "I-ABC").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := storage.UpdateProviderSubscription(context.Background(), models.ProviderPayPal, "I-ABC",
		models.ProviderSubscriptionCanceled, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE provider_subscriptions`)).
		WillReturnError(errors.New("connection reset"))
	_, err = storage.UpdateProviderSubscription(context.Background(), models.ProviderPayPal, "I-ABC",
		models.ProviderSubscriptionCanceled, nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_FindActiveProviderSubscription(t *testing.T) {
	storage, mock := setupMock(t)
	periodEnd := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "provider", "external_id", "user_id", "status", "period_end", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM provider_subscriptions`)).
		WithArgs("stripe", testUserID, models.ProviderSubscriptionActive).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(3, "stripe", "sub_1", testUserID, "active", periodEnd, time.Now()))

	ps, err := storage.FindActiveProviderSubscription(context.Background(), models.ProviderStripe, testUserID)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderStripe, ps.Provider)
	require.NotNil(t, ps.PeriodEnd)
	assert.True(t, periodEnd.Equal(*ps.PeriodEnd))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM provider_subscriptions`)).
		WithArgs("paypal", testUserID, models.ProviderSubscriptionActive).
		WillReturnError(sql.ErrNoRows)

	_, err = storage.FindActiveProviderSubscription(context.Background(), models.ProviderPayPal, testUserID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckDatabaseReady(t *testing.T) {
	storage, mock := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	assert.Error(t, CheckDatabaseReady(context.Background(), storage))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	assert.NoError(t, CheckDatabaseReady(context.Background(), storage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

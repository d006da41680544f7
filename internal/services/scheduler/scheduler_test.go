package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-panel/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/billing-panel/internal/models"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ExpireSubscriptions(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRepository) FindTrialsExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.User, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Invalidate(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, message any) error {
	return m.Called(ctx, routingKey, message).Error(0)
}

var fixedNow = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func newTestScheduler() (*Scheduler, *MockRepository, *MockCache, *MockPublisher) {
	repo := new(MockRepository)
	c := new(MockCache)
	pub := new(MockPublisher)
	s := New(repo, c, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return fixedNow }
	return s, repo, c, pub
}

func TestExpireSubscriptions(t *testing.T) {
	s, repo, c, _ := newTestScheduler()
	ctx := context.Background()

	repo.On("ExpireSubscriptions", ctx, fixedNow).Return([]string{"u1", "u2"}, nil)
	c.On("Invalidate", ctx, []string{"user:u1", "user:u2"}).Return(nil)

	s.ExpireSubscriptions(ctx)

	repo.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestExpireSubscriptions_NothingExpired(t *testing.T) {
	s, repo, c, _ := newTestScheduler()
	repo.On("ExpireSubscriptions", mock.Anything, fixedNow).Return([]string{}, nil)

	s.ExpireSubscriptions(context.Background())

	c.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
}

func TestExpireSubscriptions_RepoError(t *testing.T) {
	s, repo, c, _ := newTestScheduler()
	repo.On("ExpireSubscriptions", mock.Anything, fixedNow).Return(nil, errors.New("db down"))

	s.ExpireSubscriptions(context.Background())

	c.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
}

func TestPublishTrialNotices(t *testing.T) {
	s, repo, _, pub := newTestScheduler()
	ctx := context.Background()
	ends := fixedNow.Add(6 * time.Hour)
	users := []*models.User{
		{ID: "u1", Email: "a@example.com", Status: models.StatusTrial, Subscription: models.Subscription{ExpiresAt: &ends}},
		{ID: "u2", Email: "b@example.com", Status: models.StatusTrial},
	}

	repo.On("FindTrialsExpiringBetween", ctx, fixedNow, fixedNow.Add(TrialNoticeWindow)).Return(users, nil)
	pub.On("Publish", ctx, rabbitmq.RoutingTrialExpiring, mock.MatchedBy(func(ev models.SubscriptionEvent) bool {
		return ev.UserID == "u1" && ev.ExpiresAt == "2026-10-17T15:00:00Z" && ev.Type == rabbitmq.RoutingTrialExpiring
	})).Return(nil).Once()
	pub.On("Publish", ctx, rabbitmq.RoutingTrialExpiring, mock.MatchedBy(func(ev models.SubscriptionEvent) bool {
		return ev.UserID == "u2" && ev.ExpiresAt == ""
	})).Return(errors.New("channel closed")).Once()

	s.PublishTrialNotices(ctx)

	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestPublishTrialNotices_None(t *testing.T) {
	s, repo, _, pub := newTestScheduler()
	repo.On("FindTrialsExpiringBetween", mock.Anything, mock.Anything, mock.Anything).Return([]*models.User{}, nil)

	s.PublishTrialNotices(context.Background())

	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestStart_InvalidSpec(t *testing.T) {
	s, _, _, _ := newTestScheduler()
	err := s.Start(context.Background(), "not a spec", "@daily")
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, _, _, _ := newTestScheduler()
	require.NoError(t, s.Start(context.Background(), "@every 1h", "0 9 * * *"))
	assert.Len(t, s.cron.Entries(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

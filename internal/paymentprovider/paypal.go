package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/magabrotheeeer/billing-panel/internal/models"
)

// Заголовки, которыми PayPal подписывает вебхуки.
const (
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
)

// PayPal проверяет вебхуки через PayPal REST API.
// Токен доступа получается по client credentials и обновляется автоматически.
type PayPal struct {
	apiURL     string
	webhookID  string
	httpClient *http.Client
}

// NewPayPal создаёт клиент PayPal.
func NewPayPal(apiURL, clientID, clientSecret, webhookID string, timeout time.Duration) *PayPal {
	apiURL = strings.TrimRight(apiURL, "/")
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     apiURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := &http.Client{Timeout: timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(ctx)
	httpClient.Timeout = timeout

	return &PayPal{
		apiURL:     apiURL,
		webhookID:  webhookID,
		httpClient: httpClient,
	}
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

type paypalEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalSubscription struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	CustomID   string `json:"custom_id"`
	Subscriber struct {
		EmailAddress string `json:"email_address"`
	} `json:"subscriber"`
	BillingInfo struct {
		NextBillingTime *time.Time `json:"next_billing_time"`
	} `json:"billing_info"`
}

// paypalSale — ресурс PAYMENT.SALE.*, у регулярного платежа заполнен billing_agreement_id.
type paypalSale struct {
	ID                 string `json:"id"`
	BillingAgreementID string `json:"billing_agreement_id"`
}

// ParseWebhook проверяет подпись события через PayPal и переводит его в WebhookEvent.
// Для регулярного платежа (PAYMENT.SALE.COMPLETED) подписка дочитывается из API.
func (p *PayPal) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*WebhookEvent, error) {
	const op = "paymentprovider.PayPal.ParseWebhook"

	if !json.Valid(payload) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidPayload)
	}
	if header.Get(HeaderTransmissionSig) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}
	if err := p.verify(ctx, payload, header); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var pe paypalEvent
	if err := json.Unmarshal(payload, &pe); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidPayload, err)
	}

	ev := &WebhookEvent{
		ID:       pe.ID,
		Type:     pe.EventType,
		Kind:     EventIgnored,
		Provider: models.ProviderPayPal,
	}

	var sub paypalSubscription
	switch pe.EventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED",
		"BILLING.SUBSCRIPTION.RENEWED",
		"BILLING.SUBSCRIPTION.UPDATED",
		"BILLING.SUBSCRIPTION.CANCELLED",
		"BILLING.SUBSCRIPTION.EXPIRED",
		"BILLING.SUBSCRIPTION.SUSPENDED":
		if err := json.Unmarshal(pe.Resource, &sub); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidPayload, err)
		}

	case "PAYMENT.SALE.COMPLETED":
		var sale paypalSale
		if err := json.Unmarshal(pe.Resource, &sale); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidPayload, err)
		}
		if sale.BillingAgreementID == "" {
			return ev, nil
		}
		fetched, err := p.subscription(ctx, sale.BillingAgreementID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sub = *fetched

	default:
		return ev, nil
	}

	ev.ExternalID = sub.ID
	ev.UserID = sub.CustomID
	ev.Email = sub.Subscriber.EmailAddress
	ev.PeriodEnd = sub.BillingInfo.NextBillingTime

	switch pe.EventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		ev.Kind = EventActivated
		ev.Status = models.ProviderSubscriptionActive
	case "BILLING.SUBSCRIPTION.RENEWED":
		ev.Kind = EventUpdated
		ev.Status = models.ProviderSubscriptionActive
	case "BILLING.SUBSCRIPTION.UPDATED", "PAYMENT.SALE.COMPLETED":
		status, ok := paypalStatus(sub.Status)
		if !ok {
			ev.Kind = EventIgnored
			return ev, nil
		}
		ev.Kind = EventUpdated
		ev.Status = status
	case "BILLING.SUBSCRIPTION.CANCELLED":
		ev.Kind = EventEnded
		ev.Status = models.ProviderSubscriptionCanceled
	case "BILLING.SUBSCRIPTION.EXPIRED":
		ev.Kind = EventEnded
		ev.Status = models.ProviderSubscriptionExpired
	case "BILLING.SUBSCRIPTION.SUSPENDED":
		ev.Kind = EventEnded
		ev.Status = models.ProviderSubscriptionSuspended
	}
	return ev, nil
}

// paypalStatus переводит статус подписки PayPal во внутренний.
// APPROVAL_PENDING и APPROVED ещё не оплачены и не отображаются.
func paypalStatus(status string) (string, bool) {
	switch status {
	case "ACTIVE":
		return models.ProviderSubscriptionActive, true
	case "CANCELLED":
		return models.ProviderSubscriptionCanceled, true
	case "EXPIRED":
		return models.ProviderSubscriptionExpired, true
	case "SUSPENDED":
		return models.ProviderSubscriptionSuspended, true
	default:
		return "", false
	}
}

// subscription загружает подписку по её ID из PayPal Subscriptions API.
func (p *PayPal) subscription(ctx context.Context, id string) (*paypalSubscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.apiURL+"/v1/billing/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New("unexpected status: " + resp.Status + " " + strings.TrimSpace(string(msg)))
	}

	var sub paypalSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (p *PayPal) verify(ctx context.Context, payload []byte, header http.Header) error {
	body, err := json.Marshal(verifyRequest{
		AuthAlgo:         header.Get(HeaderAuthAlgo),
		CertURL:          header.Get(HeaderCertURL),
		TransmissionID:   header.Get(HeaderTransmissionID),
		TransmissionSig:  header.Get(HeaderTransmissionSig),
		TransmissionTime: header.Get(HeaderTransmissionTime),
		WebhookID:        p.webhookID,
		WebhookEvent:     payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New("unexpected status: " + resp.Status + " " + strings.TrimSpace(string(msg)))
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return err
	}
	if vr.VerificationStatus != "SUCCESS" {
		return ErrInvalidSignature
	}
	return nil
}

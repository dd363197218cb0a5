package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is the provider adapter consumed by the reconciliation engine.
// Implementations translate provider-specific error shapes into the
// taxonomy in errors.go; the engine never inspects SDK error types.
type Client interface {
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
	RetrieveEvent(ctx context.Context, eventID string) (*EventPayload, error)
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter <-chan time.Time
}

// NewClient builds the HTTP provider client from env. The limiter paces all
// outbound calls to BILLING_RATE_LIMIT_PER_MIN (default 60).
func NewClient() (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("BILLING_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.billing.example.com"
	}
	apiKey := strings.TrimSpace(os.Getenv("BILLING_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("billing api key is empty")
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("BILLING_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.Tick(interval),
	}, nil
}

type wireSubscription struct {
	ID                string      `json:"id"`
	Customer          string      `json:"customer"`
	Status            string      `json:"status"`
	CurrentPriceID    string      `json:"current_price_id"`
	PlanAmount        json.Number `json:"plan_amount"`
	CurrentPeriodEnd  int64       `json:"current_period_end"`
	ScheduledPriceID  string      `json:"scheduled_price_id"`
	ScheduledChangeAt int64       `json:"scheduled_change_at"`
	CancelAtPeriodEnd bool        `json:"cancel_at_period_end"`
}

type wireEvent struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Data   struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (c *httpClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	body, err := c.getJSON(ctx, "/v1/subscriptions/"+subscriptionID)
	if err != nil {
		return nil, err
	}
	var wire wireSubscription
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("billing: decode subscription %s: %w", subscriptionID, err)
	}
	return snapshotFromWire(wire), nil
}

func (c *httpClient) RetrieveEvent(ctx context.Context, eventID string) (*EventPayload, error) {
	body, err := c.getJSON(ctx, "/v1/events/"+eventID)
	if err != nil {
		return nil, err
	}
	var wire wireEvent
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("billing: decode event %s: %w", eventID, err)
	}

	payload := &EventPayload{
		ID:     wire.ID,
		Type:   wire.Type,
		UserID: wire.UserID,
		Raw:    wire.Data.Object,
	}
	if len(wire.Data.Object) > 0 {
		var sub wireSubscription
		if err := json.Unmarshal(wire.Data.Object, &sub); err == nil && sub.ID != "" {
			payload.Subscription = snapshotFromWire(sub)
		}
	}
	return payload, nil
}

func (c *httpClient) getJSON(ctx context.Context, path string) ([]byte, error) {
	<-c.limiter

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", path, strings.TrimSpace(string(body))),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("billing: api error %d on %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func snapshotFromWire(wire wireSubscription) *SubscriptionSnapshot {
	snap := &SubscriptionSnapshot{
		ID:                wire.ID,
		CustomerID:        wire.Customer,
		Status:            wire.Status,
		CurrentPriceID:    wire.CurrentPriceID,
		PlanAmount:        decimalFromNumber(wire.PlanAmount),
		CancelAtPeriodEnd: wire.CancelAtPeriodEnd,
	}
	if wire.CurrentPeriodEnd > 0 {
		snap.CurrentPeriodEnd = time.Unix(wire.CurrentPeriodEnd, 0).UTC()
	}
	if wire.ScheduledPriceID != "" {
		id := wire.ScheduledPriceID
		snap.ScheduledPriceID = &id
	}
	if wire.ScheduledChangeAt > 0 {
		t := time.Unix(wire.ScheduledChangeAt, 0).UTC()
		snap.ScheduledChangeAt = &t
	}
	return snap
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

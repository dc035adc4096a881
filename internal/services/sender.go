package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// DeliverySender pushes one event to the downstream consumer endpoint.
type DeliverySender interface {
	Send(ctx context.Context, event *models.Event) error
}

type deliveryEnvelope struct {
	EventID    int64          `json:"event_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   int64          `json:"entity_id"`
	Operation  string         `json:"operation"`
	OccurredAt time.Time      `json:"occurred_at"`
	Priority   string         `json:"priority"`
	Category   string         `json:"category"`
	Actor      string         `json:"actor,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// HTTPDeliverySender POSTs events to a single configured endpoint. A
// circuit breaker trips after consecutive failures so a dead endpoint does
// not soak up worker time; while open, sends fail fast and flow into the
// normal retry schedule.
type HTTPDeliverySender struct {
	client   *http.Client
	endpoint string
	secret   string
	breaker  *gobreaker.CircuitBreaker
}

func NewHTTPDeliverySender(endpoint, secret string, timeout time.Duration) *HTTPDeliverySender {
	return &HTTPDeliverySender{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		secret:   secret,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "event-delivery",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (s *HTTPDeliverySender) Send(ctx context.Context, event *models.Event) error {
	body, err := json.Marshal(deliveryEnvelope{
		EventID:    event.ID,
		EntityKind: event.EntityKind,
		EntityID:   event.EntityID,
		Operation:  string(event.Operation),
		OccurredAt: event.OccurredAt,
		Priority:   string(event.Priority),
		Category:   string(event.Category),
		Actor:      event.Actor,
		Payload:    event.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode delivery payload: %w", err)
	}

	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.post(ctx, event.ID, body)
	})
	return err
}

func (s *HTTPDeliverySender) post(ctx context.Context, eventID int64, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", uuid.New().String())
	req.Header.Set("X-Event-ID", strconv.FormatInt(eventID, 10))
	if s.secret != "" {
		req.Header.Set("X-Signature", sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delivery rejected with status %d", resp.StatusCode)
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

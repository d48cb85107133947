package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Sender delivers one notification over its channel. rest-hook is the only
// built-in implementation (net/http POST); email/message/websocket senders
// are pluggable so cmd/fhircore can wire whatever transport a deployment
// actually has configured, mirroring the teacher's EmailSender/SMSSender
// seams in internal/platform/notification.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// RestHookSender POSTs the notification payload to n.Endpoint. There is no
// third-party HTTP client in this module's dependency set (the pack's one
// outbound-HTTP precedent, internal/terminology's RemoteProvider, is itself
// stdlib net/http for the same reason: posting to an arbitrary
// operator-configured URL is not a concern any FHIR/db/messaging library in
// the corpus owns), so this follows that precedent rather than reaching for
// an unrelated client library.
type RestHookSender struct {
	client *http.Client
}

func NewRestHookSender(timeout time.Duration) *RestHookSender {
	return &RestHookSender{client: &http.Client{Timeout: timeout}}
}

func (s *RestHookSender) Send(ctx context.Context, n Notification) error {
	var body bytes.Buffer
	if n.Payload != nil {
		if err := json.NewEncoder(&body).Encode(n.Payload); err != nil {
			return fmt.Errorf("subscription: encode rest-hook payload: %w", err)
		}
	} else {
		body.WriteString("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, &body)
	if err != nil {
		return fmt.Errorf("subscription: build rest-hook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	for i := 0; i+1 < len(n.Header); i += 2 {
		req.Header.Set(n.Header[i], n.Header[i+1])
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("subscription: rest-hook delivery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("subscription: rest-hook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// NoopSender accepts and discards a notification. Used as the default for
// channel kinds a deployment has not wired a real transport for yet
// (email, message, websocket) so the dispatcher still drains and records
// the attempt rather than stalling the queue.
type NoopSender struct{}

func (NoopSender) Send(ctx context.Context, n Notification) error { return nil }

// Dispatcher loops Claim/Send/Mark against the Queue until ctx is
// cancelled; each Run call is one such loop.
type Dispatcher struct {
	queue     *Queue
	senders   map[string]Sender
	batchSize int
	poll      time.Duration
	logger    zerolog.Logger
}

func NewDispatcher(queue *Queue, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue: queue,
		senders: map[string]Sender{
			"rest-hook": NewRestHookSender(10 * time.Second),
			"email":     NoopSender{},
			"message":   NoopSender{},
			"websocket": NoopSender{},
		},
		batchSize: 20,
		poll:      2 * time.Second,
		logger:    logger,
	}
}

// SetSender overrides the Sender used for channelType, letting
// cmd/fhircore wire a real email/SMS/websocket transport without changing
// the dispatcher.
func (d *Dispatcher) SetSender(channelType string, sender Sender) {
	d.senders[channelType] = sender
}

// Run claims and delivers batches until ctx is cancelled, per worker.
// Launch several as separate goroutines to get the §5 SKIP-LOCKED
// multi-worker backpressure behavior.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) {
	batch, err := d.queue.Claim(ctx, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("subscription: claim failed")
		return
	}
	for _, n := range batch {
		d.deliver(ctx, n)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	sender, ok := d.senders[n.ChannelType]
	if !ok {
		sender = NoopSender{}
	}

	attempts := n.Attempts + 1
	if err := sender.Send(ctx, n); err != nil {
		if markErr := d.queue.MarkFailed(ctx, n.ID, attempts, err); markErr != nil {
			d.logger.Error().Err(markErr).Int64("notification_id", n.ID).Msg("subscription: mark failed errored")
		}
		return
	}
	if err := d.queue.MarkDelivered(ctx, n.ID); err != nil {
		d.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("subscription: mark delivered errored")
	}
}

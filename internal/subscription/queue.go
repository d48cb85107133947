package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification statuses.
const (
	NotificationPending   = "pending"
	NotificationClaimed   = "claimed"
	NotificationRetrying  = "retrying"
	NotificationDelivered = "delivered"
	NotificationFailed    = "failed"
)

// MaxDeliveryAttempts bounds retry/backoff before a notification is marked
// permanently failed rather than retried forever.
const MaxDeliveryAttempts = 8

// Notification is one queued delivery attempt, durable in the `notification`
// table so a process restart never silently drops a match.
type Notification struct {
	ID             int64
	SubscriptionID string
	ResourceType   string
	ResourceID     string
	VersionID      int
	TxID           int64
	Interaction    string
	ChannelType    string
	Endpoint       string
	Header         []string
	Content        string
	Payload        map[string]interface{}
	Status         string
	Attempts       int
	NextAttemptAt  time.Time
	LastError      string
}

// Queue is the durable, SKIP-LOCKED-claimed notification delivery queue
// backed by the `notification` table, per §5's backpressure model: multiple
// dispatch workers claim distinct batches without contending on the same
// rows.
type Queue struct {
	pool *pgxpool.Pool
}

func NewQueue(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue inserts n as a pending notification.
func (q *Queue) Enqueue(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("subscription: marshal notification payload: %w", err)
	}
	_, err = db.Conn(ctx, q.pool).Exec(ctx, `
		INSERT INTO notification
			(subscription_id, resource_type, resource_id, version_id, tx_id, interaction,
			 channel_type, endpoint, header, content, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		n.SubscriptionID, n.ResourceType, n.ResourceID, n.VersionID, n.TxID, n.Interaction,
		n.ChannelType, n.Endpoint, n.Header, n.Content, payload)
	if err != nil {
		return fmt.Errorf("subscription: enqueue notification: %w", err)
	}
	return nil
}

// Claim atomically reserves up to batchSize due notifications for this
// worker, ordered per-resource by tx_id within the batch. SKIP LOCKED lets
// concurrent workers claim different notifications of the same (type,id),
// and a failed notification waits out its backoff while later ones are
// claimed, so tx order across batches is not guaranteed.
func (q *Queue) Claim(ctx context.Context, batchSize int) ([]Notification, error) {
	rows, err := q.pool.Query(ctx, `
		UPDATE notification SET status = $1
		WHERE id IN (
			SELECT id FROM notification
			WHERE status IN ($2, $3) AND next_attempt_at <= now()
			ORDER BY resource_type, resource_id, tx_id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, subscription_id, resource_type, resource_id, version_id, tx_id,
			interaction, channel_type, endpoint, header, content, payload, status, attempts`,
		NotificationClaimed, NotificationPending, NotificationRetrying, batchSize)
	if err != nil {
		return nil, fmt.Errorf("subscription: claim notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.SubscriptionID, &n.ResourceType, &n.ResourceID, &n.VersionID,
			&n.TxID, &n.Interaction, &n.ChannelType, &n.Endpoint, &n.Header, &n.Content,
			&payload, &n.Status, &n.Attempts); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &n.Payload)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkDelivered records a successful delivery.
func (q *Queue) MarkDelivered(ctx context.Context, id int64) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE notification SET status = $1, delivered_at = now() WHERE id = $2`,
		NotificationDelivered, id)
	return err
}

// MarkFailed records a delivery failure, scheduling an exponential-backoff
// retry until MaxDeliveryAttempts is reached, at which point the
// notification is marked permanently failed.
func (q *Queue) MarkFailed(ctx context.Context, id int64, attempts int, cause error) error {
	if attempts >= MaxDeliveryAttempts {
		_, err := q.pool.Exec(ctx,
			`UPDATE notification SET status = $1, attempts = $2, last_error = $3 WHERE id = $4`,
			NotificationFailed, attempts, cause.Error(), id)
		return err
	}
	backoff := time.Duration(1<<uint(attempts)) * time.Second
	if backoff > 10*time.Minute {
		backoff = 10 * time.Minute
	}
	_, err := q.pool.Exec(ctx,
		`UPDATE notification SET status = $1, attempts = $2, last_error = $3,
		 next_attempt_at = now() + make_interval(secs => $4) WHERE id = $5`,
		NotificationRetrying, attempts, cause.Error(), backoff.Seconds(), id)
	return err
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "replate/pkg/domain"
	audit "replate/pkg/platform/audit"
	txcontext "replate/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to audit_outbox in the caller's transaction and
// published to Kafka by the outbox relay.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Pick(ctx, s.db)
}

// Payload is the JSON document stored in the outbox and published to Kafka.
type Payload struct {
	ID         string   `json:"id"`
	Category   string   `json:"category"`
	Timestamp  string   `json:"timestamp"`
	ActorID    string   `json:"actor_id,omitempty"`
	ActorRole  string   `json:"actor_role,omitempty"`
	Subject    string   `json:"subject"`
	Action     string   `json:"action"`
	Decision   string   `json:"decision,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	RelatedIDs []string `json:"related_ids,omitempty"`
	RequestID  string   `json:"request_id,omitempty"`
	Client     string   `json:"client,omitempty"`
	ClientIP   string   `json:"client_ip,omitempty"`
}

// ToPayload converts an event to its wire form.
func ToPayload(event audit.Event) Payload {
	p := Payload{
		ID:         event.ID,
		Category:   string(event.Category),
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorRole:  string(event.ActorRole),
		Subject:    event.Subject,
		Action:     event.Action,
		Decision:   event.Decision,
		Reason:     event.Reason,
		RelatedIDs: event.RelatedIDs,
		RequestID:  event.RequestID,
		Client:     event.Client,
		ClientIP:   event.ClientIP,
	}
	if !event.ActorID.IsNil() {
		p.ActorID = event.ActorID.String()
	}
	return p
}

// FromPayload is the inverse of ToPayload.
func FromPayload(p Payload) audit.Event {
	event := audit.Event{
		ID:         p.ID,
		Category:   audit.EventCategory(p.Category),
		ActorRole:  id.Role(p.ActorRole),
		Subject:    p.Subject,
		Action:     p.Action,
		Decision:   p.Decision,
		Reason:     p.Reason,
		RelatedIDs: p.RelatedIDs,
		RequestID:  p.RequestID,
		Client:     p.Client,
		ClientIP:   p.ClientIP,
	}
	if ts, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
		event.Timestamp = ts
	}
	if actor, err := uuid.Parse(p.ActorID); err == nil {
		event.ActorID = id.AccountID(actor)
	}
	return event
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payload, err := json.Marshal(ToPayload(event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO audit_outbox (event_id, action, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		event.Action,
		event.Subject,
		payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListBySubject returns outbox events for one aggregate, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT payload FROM audit_outbox
		WHERE aggregate_id = $1
		ORDER BY id ASC
	`, subject)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanPayloads(rows)
}

// ListRecent returns the limit most recent events, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT payload FROM audit_outbox
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanPayloads(rows)
}

// OutboxEntry is an unpublished outbox row.
type OutboxEntry struct {
	ID          int64
	AggregateID string
	Payload     []byte
}

// FetchUnpublished locks up to limit unpublished rows for the current
// transaction. Concurrent relays skip rows already locked by another relay.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, aggregate_id, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPublished stamps the given outbox rows as published.
func (s *Store) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE audit_outbox SET published_at = $2 WHERE id = ANY($1)`,
		pq.Array(ids), at)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func scanPayloads(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode audit event: %w", err)
		}
		events = append(events, FromPayload(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

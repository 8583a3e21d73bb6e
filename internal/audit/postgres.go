package audit

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const recordTimeout = 5 * time.Second

// PostgresSink writes audit events to the mode_change_audit table through a
// single background worker. Record enqueues and returns immediately; when
// the buffer is full the event is logged and dropped rather than blocking
// the mode change result path.
type PostgresSink struct {
	pool   *pgxpool.Pool
	events chan Event
	logger zerolog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPostgresSink starts the background writer.
func NewPostgresSink(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresSink {
	s := &PostgresSink{
		pool:   pool,
		events: make(chan Event, 256),
		logger: logger.With().Str("component", "AuditSink").Logger(),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Record enqueues an event without blocking.
func (s *PostgresSink) Record(event Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Error().
			Str("from", event.FromMode).
			Str("to", event.ToMode).
			Str("outcome", string(event.Outcome)).
			Msg("audit buffer full, dropping event")
	}
}

// Close stops accepting events and drains the buffer.
func (s *PostgresSink) Close() {
	s.closeOnce.Do(func() { close(s.events) })
	s.wg.Wait()
}

func (s *PostgresSink) worker() {
	defer s.wg.Done()
	for event := range s.events {
		s.write(event)
	}
}

func (s *PostgresSink) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO mode_change_audit (id, from_mode, to_mode, outcome, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.FromMode, event.ToMode, string(event.Outcome), event.Reason, event.Timestamp,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("id", event.ID).Msg("failed to persist audit event")
	}
}

// ListRecent returns the most recent audit events, newest first.
func (s *PostgresSink) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, from_mode, to_mode, outcome, reason, created_at
		 FROM mode_change_audit
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var outcome string
		if err := rows.Scan(&event.ID, &event.FromMode, &event.ToMode, &outcome, &event.Reason, &event.Timestamp); err != nil {
			return nil, err
		}
		event.Outcome = Outcome(outcome)
		events = append(events, event)
	}
	return events, rows.Err()
}

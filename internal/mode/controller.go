package mode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trading-dashboard/internal/audit"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Snapshotter receives the last confirmed mode status for cheap dashboard
// reads. Best effort; a snapshot failure never fails a mode change.
type Snapshotter interface {
	WriteSnapshot(ctx context.Context, status *Status) error
}

// pendingChange exists only while one change request is in flight. At most
// one per controller: a second request is rejected, not queued.
type pendingChange struct {
	target           Mode
	confirmationText string
	token            string
	submittedAt      time.Time
}

// Controller orchestrates the paper/live transition: re-reads server state,
// binds a fresh anti-forgery token, applies the confirmation gate when
// escalating, submits the change and records the outcome. The cached mode
// is advisory only; every transition re-validates against the server.
type Controller struct {
	mu           sync.Mutex
	pending      *pendingChange
	cached       *Status
	lastSyncedAt time.Time

	service  Service
	gate     ConfirmationGate
	sink     audit.Sink
	snapshot Snapshotter // may be nil
	logger   zerolog.Logger
}

// NewController wires the controller to its collaborators. snapshot may be
// nil when no cache is configured.
func NewController(service Service, sink audit.Sink, snapshot Snapshotter, logger zerolog.Logger) *Controller {
	return &Controller{
		service:  service,
		sink:     sink,
		snapshot: snapshot,
		logger:   logger.With().Str("component", "TradingModeController").Logger(),
	}
}

// RequestChange attempts to switch the trading session to target. Mode
// changes are never silently retried; every failure surfaces its precise
// reason to the caller and is recorded in the audit log.
func (c *Controller) RequestChange(ctx context.Context, target Mode, confirmationText string) (*Status, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown trading mode %q", target)
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, ErrChangePending
	}
	c.pending = &pendingChange{
		target:           target,
		confirmationText: confirmationText,
		submittedAt:      time.Now(),
	}
	c.mu.Unlock()

	// The pending marker is cleared on every exit path.
	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}()

	// The cached mode is advisory: re-read server state before anything
	// privileged happens.
	current, err := c.service.CurrentMode(ctx)
	if err != nil {
		c.record("", target, audit.OutcomeFailed, "current mode fetch failed: "+err.Error())
		return nil, fmt.Errorf("%w: %v", ErrModeUnavailable, err)
	}
	c.updateCache(current)

	if current.Mode == target {
		c.logger.Info().Str("mode", string(target)).Msg("already in requested mode")
		return current, nil
	}

	token, err := c.service.AntiForgeryToken(ctx)
	if err != nil {
		c.record(current.Mode, target, audit.OutcomeFailed, "token fetch failed: "+err.Error())
		return nil, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}

	c.mu.Lock()
	c.pending.token = token
	pending := *c.pending
	c.mu.Unlock()

	// Downgrades never consult the gate; only escalation is judged.
	if current.Mode == Paper && target == Live {
		decision := c.gate.Validate(target, current.Mode, pending.confirmationText, pending.token, token)
		if !decision.Allowed {
			c.record(current.Mode, target, audit.OutcomeRejected, decision.Reason)
			c.logger.Warn().Str("reason", decision.Reason).Msg("escalation to live trading denied")
			return nil, &ConfirmationError{Reason: decision.Reason}
		}
	}

	status, err := c.service.SubmitChange(ctx, target, pending.confirmationText, pending.token)
	if err != nil {
		c.record(current.Mode, target, audit.OutcomeFailed, err.Error())
		var remote *RemoteError
		if errors.As(err, &remote) {
			return nil, remote
		}
		return nil, fmt.Errorf("mode change submission failed: %w", err)
	}

	c.updateCache(status)
	c.writeSnapshot(ctx, status)
	c.record(current.Mode, status.Mode, audit.OutcomeSucceeded, status.Message)
	c.logger.Info().Str("from", string(current.Mode)).Str("to", string(status.Mode)).Msg("trading mode changed")
	return status, nil
}

// CurrentMode reads the authoritative mode from the remote service and
// refreshes the local cache.
func (c *Controller) CurrentMode(ctx context.Context) (*Status, error) {
	status, err := c.service.CurrentMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModeUnavailable, err)
	}
	c.updateCache(status)
	c.writeSnapshot(ctx, status)
	return status, nil
}

// CachedMode returns the advisory cached copy and when it was last synced.
// Returns nil if no successful server read has happened yet.
func (c *Controller) CachedMode() (*Status, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil {
		return nil, time.Time{}
	}
	copied := *c.cached
	return &copied, c.lastSyncedAt
}

func (c *Controller) updateCache(status *Status) {
	copied := *status
	c.mu.Lock()
	c.cached = &copied
	c.lastSyncedAt = time.Now()
	c.mu.Unlock()
}

func (c *Controller) writeSnapshot(ctx context.Context, status *Status) {
	if c.snapshot == nil {
		return
	}
	if err := c.snapshot.WriteSnapshot(ctx, status); err != nil {
		c.logger.Warn().Err(err).Msg("mode snapshot write failed")
	}
}

func (c *Controller) record(from, to Mode, outcome audit.Outcome, reason string) {
	modeChangesTotal.WithLabelValues(string(outcome)).Inc()
	if c.sink == nil {
		return
	}
	c.sink.Record(audit.Event{
		ID:        uuid.NewString(),
		FromMode:  string(from),
		ToMode:    string(to),
		Outcome:   outcome,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

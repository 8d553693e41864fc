// Package confirm manages pending human confirmations: actions the policy
// engine or risk aggregator escalated, held until an operator approves or
// denies them, or the timeout effect resolves them.
package confirm

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sentinelsec/sentinel/internal/alert"
)

// Request represents an action waiting for operator confirmation.
type Request struct {
	ID            string                 `json:"id"`
	SessionID     string                 `json:"session_id"`
	Rule          string                 `json:"rule"`
	Risk          float64                `json:"risk"`
	ActionSummary map[string]interface{} `json:"action_summary"`
	Timeout       time.Duration          `json:"timeout"`
	TimeoutEffect string                 `json:"timeout_effect"` // "deny" or "allow"
	CreatedAt     time.Time              `json:"created_at"`
	result        chan Result
}

// Result is the outcome of a confirmation request.
type Result struct {
	Approved   bool
	ResolvedBy string
}

// Queue manages pending confirmation requests.
type Queue struct {
	mu       sync.RWMutex
	pending  map[string]*Request
	alertMgr *alert.Manager
	logger   *slog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// NewQueue creates a new confirmation queue. alertMgr may be nil.
func NewQueue(alertMgr *alert.Manager, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		pending:  make(map[string]*Request),
		alertMgr: alertMgr,
		logger:   logger.With("component", "confirm.Queue"),
		done:     make(chan struct{}),
	}

	go q.checkTimeouts()

	return q
}

// Close stops the timeout checker.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.done) })
}

// Submit queues an action for confirmation and blocks until it is resolved,
// times out, or ctx is cancelled. A cancelled context counts as a denial.
func (q *Queue) Submit(ctx context.Context, req *Request) (bool, error) {
	if req.ID == "" {
		req.ID = "cfm_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
	}
	req.CreatedAt = time.Now()
	req.result = make(chan Result, 1)

	q.mu.Lock()
	q.pending[req.ID] = req
	q.mu.Unlock()

	if q.alertMgr != nil {
		q.alertMgr.Send(alert.Alert{
			Type:      "confirmation_required",
			Severity:  "warning",
			Title:     fmt.Sprintf("Confirmation needed: %s", req.Rule),
			Message:   fmt.Sprintf("Action held by rule %q in session %s.", req.Rule, req.SessionID),
			SessionID: req.SessionID,
			Details:   req.ActionSummary,
		})
	}

	q.logger.Info("confirmation request submitted",
		"confirmation_id", req.ID,
		"rule", req.Rule,
		"session_id", req.SessionID,
		"timeout", req.Timeout,
	)

	select {
	case result := <-req.result:
		return result.Approved, nil
	case <-ctx.Done():
		q.cleanup(req.ID)
		return false, ctx.Err()
	}
}

// Resolve approves or denies a pending request.
func (q *Queue) Resolve(id string, approved bool, resolvedBy string) error {
	q.mu.Lock()
	req, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("confirmation %s not found or already resolved", id)
	}

	req.result <- Result{Approved: approved, ResolvedBy: resolvedBy}

	q.logger.Info("confirmation resolved",
		"confirmation_id", id,
		"approved", approved,
		"resolved_by", resolvedBy,
	)

	return nil
}

// ListPending returns all pending confirmation requests.
func (q *Queue) ListPending() []*Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	requests := make([]*Request, 0, len(q.pending))
	for _, req := range q.pending {
		requests = append(requests, req)
	}
	return requests
}

// PendingCount returns the number of unresolved requests.
func (q *Queue) PendingCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pending)
}

// checkTimeouts periodically resolves timed-out requests with their
// configured timeout effect.
func (q *Queue) checkTimeouts() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
		}

		q.mu.Lock()
		now := time.Now()
		for id, req := range q.pending {
			deadline := req.CreatedAt.Add(req.Timeout)
			if now.After(deadline) {
				approved := req.TimeoutEffect == "allow"
				delete(q.pending, id)

				req.result <- Result{Approved: approved, ResolvedBy: "timeout"}

				q.logger.Warn("confirmation timed out",
					"confirmation_id", id,
					"timeout_effect", req.TimeoutEffect,
					"approved", approved,
				)
			}
		}
		q.mu.Unlock()
	}
}

func (q *Queue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"

	"github.com/emberwallet/ember/internal/errcode"
	"github.com/emberwallet/ember/internal/notify"
	"github.com/emberwallet/ember/internal/store"
)

// Kind classifies what a pending approval asks consent for.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindMessage     Kind = "message"
	KindTypedData   Kind = "typedData"
)

const (
	// DefaultPollInterval bounds the wake-up latency of Await.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultTTL is how long an unresolved request may linger before
	// ListPending prunes it as orphaned.
	DefaultTTL = 10 * time.Minute
)

// Request is one pending approval. It is created once, mutated by nobody and
// destroyed when its resolution is consumed.
type Request struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Result is the decision recorded by the consent surface. It is written
// exactly once and consumed at most once.
type Result struct {
	Approved  bool      `json:"approved"`
	Timestamp time.Time `json:"timestamp"`
}

// Broker mediates the cross-process rendezvous between an operation that
// needs consent and the surface that grants it. The two sides share nothing
// but the persistent store: Create writes a pending entry, Resolve moves it
// to the results table, and Await polls for the result and takes it with
// at-most-once semantics.
type Broker struct {
	store    store.Store
	notifier notify.Notifier
	clk      clock.Clock
	log      *zap.SugaredLogger
	poll     time.Duration
	ttl      time.Duration

	// mu serializes read-modify-write cycles on the two tables and makes
	// the take in Await atomic with respect to in-process callers.
	mu sync.Mutex
}

// Option configures a Broker.
type Option func(*Broker)

// WithPollInterval overrides how often Await checks for a resolution.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) { b.poll = d }
}

// WithTTL overrides the orphaned-request expiry.
func WithTTL(d time.Duration) Option {
	return func(b *Broker) { b.ttl = d }
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(b *Broker) { b.clk = c }
}

// NewBroker creates an approval broker.
func NewBroker(s store.Store, n notify.Notifier, log *zap.SugaredLogger, opts ...Option) *Broker {
	b := &Broker{
		store:    s,
		notifier: n,
		clk:      clock.NewDefaultClock(),
		log:      log,
		poll:     DefaultPollInterval,
		ttl:      DefaultTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create persists a new pending request and notifies the consent surface.
// The notification is best effort.
func (b *Broker) Create(ctx context.Context, kind Kind, payload json.RawMessage) (string, error) {
	return b.CreateWithID(ctx, uuid.NewString(), kind, payload)
}

// CreateWithID is Create with a caller-supplied request id.
func (b *Broker) CreateWithID(ctx context.Context, id string, kind Kind, payload json.RawMessage) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	raw, err := json.Marshal(Request{
		ID:        id,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: b.clk.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	b.mu.Lock()
	pending, err := b.loadTable(ctx, store.KeyPendingApprovals)
	if err != nil {
		b.mu.Unlock()
		return "", err
	}
	pending[id] = raw
	err = b.storeTable(ctx, store.KeyPendingApprovals, pending)
	b.mu.Unlock()
	if err != nil {
		return "", err
	}

	b.notifier.ApprovalCreated(ctx, id, string(kind))
	b.log.Infow("approval requested", "id", id, "kind", kind)
	return id, nil
}

// Await suspends the caller until a resolution for id appears, polling the
// results table. The first sighting removes the entry, so a resolution is
// delivered at most once; a second Await for the same id blocks until the
// context expires.
func (b *Broker) Await(ctx context.Context, id string) (Result, error) {
	for {
		result, found, err := b.take(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if found {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(b.poll):
		}
	}
}

// take atomically removes and returns the resolution for id, if present.
func (b *Broker) take(ctx context.Context, id string) (Result, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	results, err := b.loadTable(ctx, store.KeyApprovalResults)
	if err != nil {
		return Result{}, false, err
	}
	raw, ok := results[id]
	if !ok {
		return Result{}, false, nil
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, false, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	delete(results, id)
	if err := b.storeTable(ctx, store.KeyApprovalResults, results); err != nil {
		return Result{}, false, err
	}
	return result, true, nil
}

// Resolve records the consent decision for a pending request and removes the
// pending entry. Fails with RequestNotFound for unknown ids.
func (b *Broker) Resolve(ctx context.Context, id string, approved bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, err := b.loadTable(ctx, store.KeyPendingApprovals)
	if err != nil {
		return err
	}
	if _, ok := pending[id]; !ok {
		return errcode.Newf(errcode.RequestNotFound, "no pending approval %q", id)
	}
	delete(pending, id)
	if err := b.storeTable(ctx, store.KeyPendingApprovals, pending); err != nil {
		return err
	}

	results, err := b.loadTable(ctx, store.KeyApprovalResults)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(Result{Approved: approved, Timestamp: b.clk.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	results[id] = raw
	if err := b.storeTable(ctx, store.KeyApprovalResults, results); err != nil {
		return err
	}

	b.log.Infow("approval resolved", "id", id, "approved", approved)
	return nil
}

// Remove is the idempotent cleanup of a request: any pending entry and any
// unconsumed result for id are dropped.
func (b *Broker) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, err := b.loadTable(ctx, store.KeyPendingApprovals)
	if err != nil {
		return err
	}
	delete(pending, id)
	if err := b.storeTable(ctx, store.KeyPendingApprovals, pending); err != nil {
		return err
	}

	results, err := b.loadTable(ctx, store.KeyApprovalResults)
	if err != nil {
		return err
	}
	delete(results, id)
	return b.storeTable(ctx, store.KeyApprovalResults, results)
}

// ListPending returns pending requests in creation order, pruning entries
// whose caller is long gone.
func (b *Broker) ListPending(ctx context.Context) ([]Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, err := b.loadTable(ctx, store.KeyPendingApprovals)
	if err != nil {
		return nil, err
	}

	cutoff := b.clk.Now().Add(-b.ttl)
	pruned := false
	list := make([]Request, 0, len(pending))
	for id, raw := range pending {
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			// Unreadable entry: drop it rather than wedge the list.
			delete(pending, id)
			pruned = true
			continue
		}
		if req.CreatedAt.Before(cutoff) {
			b.log.Infow("pruning orphaned approval", "id", id, "createdAt", req.CreatedAt)
			delete(pending, id)
			pruned = true
			continue
		}
		list = append(list, req)
	}
	if pruned {
		if err := b.storeTable(ctx, store.KeyPendingApprovals, pending); err != nil {
			return nil, err
		}
	}

	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// loadTable reads one of the two JSON tables keyed by request id.
func (b *Broker) loadTable(ctx context.Context, key string) (map[string]json.RawMessage, error) {
	raw, err := store.GetOne(ctx, b.store, key)
	if err != nil {
		return nil, err
	}
	table := make(map[string]json.RawMessage)
	if raw == nil {
		return table, nil
	}
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return table, nil
}

func (b *Broker) storeTable(ctx context.Context, key string, table map[string]json.RawMessage) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return store.SetOne(ctx, b.store, key, raw)
}

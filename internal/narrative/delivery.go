package narrative

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/user/narrative-engine/config"
	"github.com/user/narrative-engine/internal/interfaces"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Dispatcher routes staged deltas to the collaborator that owns them
type Dispatcher struct {
	mu          sync.RWMutex
	deliverers  map[types.DeltaTarget]interfaces.DeltaDeliverer
	delivered   *lru.Cache
	timeout     time.Duration
	concurrency int64
	Logger      *zap.Logger
}

// DeliveryOutcome is what one dispatch pass did with each pending item
type DeliveryOutcome struct {
	Delivered  []string
	Duplicates []string
	Failed     map[string]error
}

// NewDispatcher creates a dispatcher from delivery configuration
func NewDispatcher(cfg config.DeliveryConfig) (*Dispatcher, error) {
	size := cfg.DedupeCacheSize
	if size < 1 {
		size = 1024
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery cache: %w", err)
	}
	concurrency := int64(cfg.Concurrency)
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		deliverers:  make(map[types.DeltaTarget]interfaces.DeltaDeliverer),
		delivered:   cache,
		timeout:     cfg.DeliveryTimeout(),
		concurrency: concurrency,
		Logger:      zap.NewNop(),
	}, nil
}

// SetLogger sets the logger for the dispatcher
func (d *Dispatcher) SetLogger(logger *zap.Logger) {
	d.Logger = logger
}

// Register installs the deliverer for a target
func (d *Dispatcher) Register(target types.DeltaTarget, deliverer interfaces.DeltaDeliverer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliverers[target] = deliverer
}

func (d *Dispatcher) deliverer(target types.DeltaTarget) (interfaces.DeltaDeliverer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dl, ok := d.deliverers[target]
	return dl, ok
}

// Dispatch delivers every pending item with bounded concurrency. An item's
// idempotency key is reserved before the call and released again if the call
// fails, so items already delivered or in flight are reported as duplicates
// and not sent again. A failure never stops the other deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, pending []types.PendingConsequence) DeliveryOutcome {
	out := DeliveryOutcome{Failed: make(map[string]error)}
	errs := make([]error, len(pending))
	sent := make([]bool, len(pending))

	sem := semaphore.NewWeighted(d.concurrency)
	var g errgroup.Group

	for i, p := range pending {
		key := p.IdempotencyKey()
		if reserved, _ := d.delivered.ContainsOrAdd(key, struct{}{}); reserved {
			out.Duplicates = append(out.Duplicates, p.ID)
			continue
		}
		sent[i] = true

		dl, ok := d.deliverer(p.Delta.Target)
		if !ok {
			d.delivered.Remove(key)
			errs[i] = fmt.Errorf("no deliverer for target %s", p.Delta.Target)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			d.delivered.Remove(key)
			errs[i] = err
			continue
		}

		i, p := i, p
		g.Go(func() error {
			defer sem.Release(1)

			callCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			if err := dl.Deliver(callCtx, p.Delta, key); err != nil {
				d.delivered.Remove(key)
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range pending {
		if !sent[i] {
			continue
		}
		if errs[i] != nil {
			out.Failed[p.ID] = errs[i]
			d.Logger.Warn("Delivery deferred",
				zap.String("character_id", p.CharacterID),
				zap.String("pending_id", p.ID),
				zap.String("target", string(p.Delta.Target)),
				zap.Error(errs[i]))
			continue
		}
		out.Delivered = append(out.Delivered, p.ID)
	}
	return out
}

// LoggingDeliverer accepts every delta and logs it. It stands in for a
// collaborator that has no client configured.
type LoggingDeliverer struct {
	Target types.DeltaTarget
	Logger *zap.Logger
}

// Deliver logs the delta
func (l *LoggingDeliverer) Deliver(ctx context.Context, delta types.StateDelta, idempotencyKey string) error {
	l.Logger.Info("Delivered narrative delta",
		zap.String("target", string(l.Target)),
		zap.String("idempotency_key", idempotencyKey),
		zap.String("character_id", delta.CharacterID),
		zap.String("kind", string(delta.Kind)),
		zap.String("key", delta.Key),
		zap.Int("amount", delta.Amount))
	return nil
}

// RetryScheduler periodically flushes every character with pending deltas
type RetryScheduler struct {
	engine   *Engine
	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRetryScheduler creates a new retry scheduler
func NewRetryScheduler(engine *Engine, interval time.Duration) *RetryScheduler {
	return &RetryScheduler{
		engine:   engine,
		ticker:   time.NewTicker(interval),
		stopChan: make(chan struct{}),
	}
}

// Start begins the retry loop
func (rs *RetryScheduler) Start() {
	go func() {
		for {
			select {
			case <-rs.ticker.C:
				rs.retryPending(context.Background())
			case <-rs.stopChan:
				rs.ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the retry loop
func (rs *RetryScheduler) Stop() {
	rs.stopOnce.Do(func() { close(rs.stopChan) })
}

// retryPending flushes each character that still has queued deltas
func (rs *RetryScheduler) retryPending(ctx context.Context) {
	e := rs.engine
	ids := e.store.IDs()
	e.Logger.Debug("Starting delivery retry cycle", zap.Int("characters", len(ids)))

	for _, id := range ids {
		state, err := e.store.Get(ctx, id)
		if err != nil || len(state.Pending) == 0 {
			continue
		}
		report, err := e.FlushConsequences(ctx, id)
		if err != nil {
			e.Logger.Error("Failed to flush pending consequences",
				zap.String("character_id", id),
				zap.Error(err))
			continue
		}
		e.Logger.Info("Retried pending consequences",
			zap.String("character_id", id),
			zap.Int("delivered", len(report.Delivered)),
			zap.Int("deferred", len(report.Deferred)))
	}
}

// GetPendingConsequences returns the deltas still waiting for delivery
func (e *Engine) GetPendingConsequences(ctx context.Context, characterID string) ([]types.PendingConsequence, error) {
	state, err := e.store.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}
	return append([]types.PendingConsequence{}, state.Pending...), nil
}

// acquireFlush serializes flushes of one character so overlapping passes
// never read the same queue
func (e *Engine) acquireFlush(ctx context.Context, characterID string) (func(), error) {
	e.flushMu.Lock()
	sem, ok := e.flushing[characterID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		e.flushing[characterID] = sem
	}
	e.flushMu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to wait for delivery: %w", err)
	}
	return func() { sem.Release(1) }, nil
}

// FlushConsequences tries to deliver a character's pending deltas. Delivery
// runs outside the writer lock; the queue is updated in a second mutation
// that leaves items staged meanwhile untouched.
func (e *Engine) FlushConsequences(ctx context.Context, characterID string) (*types.FlushReport, error) {
	release, err := e.acquireFlush(ctx, characterID)
	if err != nil {
		return nil, err
	}
	defer release()

	state, err := e.store.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}

	report := &types.FlushReport{
		CharacterID: characterID,
		Delivered:   []string{},
		Duplicates:  []string{},
		Deferred:    []types.PendingConsequence{},
	}
	if len(state.Pending) == 0 || e.dispatcher == nil {
		report.Deferred = append(report.Deferred, state.Pending...)
		return report, nil
	}

	outcome := e.dispatcher.Dispatch(ctx, state.Pending)
	done := make(map[string]bool, len(outcome.Delivered)+len(outcome.Duplicates))
	for _, id := range outcome.Delivered {
		done[id] = true
	}
	for _, id := range outcome.Duplicates {
		done[id] = true
	}

	now := e.now()
	next, err := e.store.Mutate(ctx, characterID, func(draft *types.NarrativeSessionState) error {
		kept := draft.Pending[:0:0]
		for _, p := range draft.Pending {
			if done[p.ID] {
				continue
			}
			if ferr, failed := outcome.Failed[p.ID]; failed {
				p.Attempts++
				p.LastError = ferr.Error()
				p.LastAttemptAt = &now
			}
			kept = append(kept, p)
		}
		draft.Pending = kept
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update pending queue: %w", err)
	}

	report.Delivered = append(report.Delivered, outcome.Delivered...)
	report.Duplicates = append(report.Duplicates, outcome.Duplicates...)
	for _, p := range next.Pending {
		if _, failed := outcome.Failed[p.ID]; failed {
			report.Deferred = append(report.Deferred, p)
			e.emit(types.NarrativeEvent{
				Type:        types.EventConsequenceDeferred,
				CharacterID: characterID,
				Payload: map[string]any{
					"pending_id": p.ID,
					"code":       string(CodeDownstreamDeliveryDeferred),
					"attempts":   p.Attempts,
					"error":      p.LastError,
				},
			})
		}
	}
	for _, id := range outcome.Delivered {
		e.emit(types.NarrativeEvent{
			Type:        types.EventConsequenceDelivered,
			CharacterID: characterID,
			Payload:     map[string]any{"pending_id": id},
		})
	}
	return report, nil
}

// flushAfterCommit delivers right away when configured to. Failures only
// leave the items queued.
func (e *Engine) flushAfterCommit(ctx context.Context, characterID string, staged int) {
	if staged == 0 || e.dispatcher == nil || !e.config.Delivery.FlushOnCommit {
		return
	}
	if _, err := e.FlushConsequences(ctx, characterID); err != nil {
		e.Logger.Warn("Flush after commit failed",
			zap.String("character_id", characterID),
			zap.Error(err))
	}
}

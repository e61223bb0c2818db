package timers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Engine is the dispatch controller spec.md §4.3 calls "Timers": it merges
// routers into a topic -> handler table, writes/removes timers atomically,
// and drains due timers on each external tick with bounded concurrency.
type Engine struct {
	redis   *redis.Client
	store   *store
	cfg     Config
	tctx    Context
	logger  *slog.Logger
	metrics Metrics

	mu     sync.RWMutex
	topics map[string]descriptor
}

// NewEngine constructs an Engine over client with cfg, an optional shared
// context (nil becomes an empty Context), an optional logger (nil becomes
// slog.Default()), optional metrics (nil becomes a no-op sink), and zero or
// more routers flattened into the topic table at construction time.
func NewEngine(client *redis.Client, cfg Config, tctx Context, logger *slog.Logger, metrics Metrics, routers ...*Router) *Engine {
	if tctx == nil {
		tctx = Context{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	e := &Engine{
		redis:   client,
		store:   newStore(client, cfg),
		cfg:     cfg,
		tctx:    tctx,
		logger:  logger,
		metrics: metrics,
		topics:  make(map[string]descriptor),
	}

	e.IncludeRouters(routers...)
	return e
}

// IncludeRouter folds one router's descriptors into the topic table. Later
// registrations for the same topic override earlier ones. Composition is
// not safe to call concurrently with HandleReadyTimers — spec.md §4.3
// expects it to complete before any tick runs.
func (e *Engine) IncludeRouter(r *Router) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range r.Descriptors() {
		e.topics[d.topic] = d
	}
}

// IncludeRouters is the variadic form of IncludeRouter.
func (e *Engine) IncludeRouters(routers ...*Router) {
	for _, r := range routers {
		e.IncludeRouter(r)
	}
}

func (e *Engine) lookup(topic string) (descriptor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.topics[topic]
	return d, ok
}

// SetTimer schedules payload to activate after activationPeriod, replacing
// any existing timer at (topic, timerID). activationPeriod of zero makes
// the timer immediately ready, per spec.md §4.3.
func (e *Engine) SetTimer(ctx context.Context, topic, timerID string, payload any, activationPeriod time.Duration) error {
	if _, ok := e.lookup(topic); !ok {
		return NewHandlerNotFoundError(topic)
	}

	if err := validate.Struct(payload); err != nil {
		var invalidErr *validator.InvalidValidationError
		if !errors.As(err, &invalidErr) {
			return fmt.Errorf("redis-timers: payload for topic %q failed validation: %w", topic, err)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis-timers: encode payload for topic %q: %w", topic, err)
	}

	key := compositeKey(topic, timerID)
	l := newTimerLock(e.redis, key, e.cfg.TimerLockTTL, e.logger)
	acquired, err := l.tryAcquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		busy := &errLockBusy{Key: key}
		e.logger.Debug("timer_lock busy, dropping set_timer", "key", key, "error", busy)
		return nil
	}
	defer l.release(ctx)

	activationTime := nowEpochSeconds() + activationPeriod.Seconds()
	return e.store.upsert(ctx, key, activationTime, raw)
}

// RemoveTimer deletes (topic, timerID) from both the timeline and the
// payloads map. Removing an absent timer is a silent no-op.
func (e *Engine) RemoveTimer(ctx context.Context, topic, timerID string) error {
	if _, ok := e.lookup(topic); !ok {
		return NewHandlerNotFoundError(topic)
	}

	key := compositeKey(topic, timerID)
	l := newTimerLock(e.redis, key, e.cfg.TimerLockTTL, e.logger)
	acquired, err := l.tryAcquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		busy := &errLockBusy{Key: key}
		e.logger.Debug("timer_lock busy, dropping remove_timer", "key", key, "error", busy)
		return nil
	}
	defer l.release(ctx)

	return e.store.remove(ctx, key)
}

// FetchAllTimers is a diagnostic: it returns the timeline in score order
// and a snapshot of the payloads map. It is never used by the dispatch
// path.
func (e *Engine) FetchAllTimers(ctx context.Context) ([]string, map[string][]byte, error) {
	return e.store.fetchAll(ctx)
}

// HandleReadyTimers performs one drain pass: it reads up to
// cfg.ConcurrentProcessingLimit due composite keys and fans them out to a
// worker pool of the same width, per spec.md §4.3. Per-worker failures are
// aggregated and returned; they never cancel sibling workers.
func (e *Engine) HandleReadyTimers(ctx context.Context) error {
	start := time.Now()
	defer func() { e.metrics.ObserveTickDuration(time.Since(start)) }()

	limit := e.cfg.ConcurrentProcessingLimit
	if limit <= 0 {
		return nil
	}

	keys, err := e.store.dueCandidates(ctx, limit)
	if err != nil {
		return err
	}
	e.metrics.SetLastBatchSize(len(keys))
	if len(keys) == 0 {
		return nil
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		workErr []error
	)
	g.SetLimit(limit)

	for _, key := range keys {
		g.Go(func() error {
			if err := e.processOne(ctx, key); err != nil {
				mu.Lock()
				workErr = append(workErr, err)
				mu.Unlock()
			}
			// Always nil: errgroup.Group (no WithContext) never cancels
			// siblings on error, and we aggregate every worker's error
			// ourselves rather than keeping only the first.
			return nil
		})
	}
	_ = g.Wait()

	if len(workErr) > 0 {
		return errors.Join(workErr...)
	}
	return nil
}

// processOne implements spec.md §4.3 step 2 for a single composite key.
func (e *Engine) processOne(ctx context.Context, key string) error {
	topic, timerID, ok := splitCompositeKey(key)
	if !ok {
		e.logger.Error("malformed composite timer key, skipping", "key", key)
		return nil
	}
	_ = timerID

	entry, ok := e.lookup(topic)
	if !ok {
		e.logger.Info("Handler is not found", "topic", topic, "key", key)
		e.metrics.IncDispatched(topic, "handler_not_found")
		return e.store.remove(ctx, key)
	}

	consumeLock := newConsumeLock(e.redis, key, e.cfg.ConsumeLockTTL, e.logger)
	acquired, err := consumeLock.tryAcquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		busy := &errLockBusy{Key: key}
		e.logger.Debug("Timer is locked", "key", key, "error", busy)
		e.metrics.IncDispatched(topic, "lock_busy")
		return nil
	}
	defer consumeLock.release(ctx)

	raw, found, err := e.store.payload(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		missing := &errPayloadDecode{Topic: topic, CompositeKey: key, Cause: errPayloadMissing}
		e.logger.Info("No payload found", "topic", topic, "key", key, "error", missing)
		e.metrics.IncDispatched(topic, "payload_missing")
		return e.store.removeTimelineEntry(ctx, key)
	}

	decoded, err := entry.decode(raw)
	if err != nil {
		decodeErr := &errPayloadDecode{Topic: topic, CompositeKey: key, Cause: err}
		e.logger.Info("Failed to parse payload", "topic", topic, "key", key, "error", decodeErr)
		e.metrics.IncDispatched(topic, "payload_invalid")
		return e.store.remove(ctx, key)
	}

	invocationCtx := make(Context, len(e.tctx)+1)
	for k, v := range e.tctx {
		invocationCtx[k] = v
	}
	invocationCtx[ConsumeLockGuardKey] = ConsumeLockGuard(consumeLock)

	if err := entry.invoke(ctx, decoded, invocationCtx); err != nil {
		e.metrics.IncDispatched(topic, "handler_error")
		return fmt.Errorf("redis-timers: handler for topic %q failed on %q: %w", topic, key, err)
	}

	e.metrics.IncDispatched(topic, "succeeded")
	return e.store.remove(ctx, key)
}

package timers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enginePayload struct {
	Message string `json:"message"`
}

// recordingHandlers collects invocations in a thread-safe slice so tests can
// assert on dispatch order/count without racing the worker pool.
type recordingHandlers struct {
	mu    sync.Mutex
	calls []enginePayload
}

func (r *recordingHandlers) handle(ctx context.Context, payload enginePayload, tctx Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, payload)
	return nil
}

func (r *recordingHandlers) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestEngine(t *testing.T, routers ...*Router) *Engine {
	t.Helper()
	client, _ := setupTestRedis(t)
	cfg := testStoreConfig()
	return NewEngine(client, cfg, nil, nil, nil, routers...)
}

func TestEngine_SetTimerThenFetchAllRoundTrip(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	e := newTestEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "test_timer_1", enginePayload{Message: "hi"}, time.Hour))

	keys, payloads, err := e.FetchAllTimers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"test_handler--test_timer_1"}, keys)
	assert.JSONEq(t, `{"message":"hi"}`, string(payloads["test_handler--test_timer_1"]))
}

func TestEngine_RemoveTimer(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	e := newTestEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "test_timer_1", enginePayload{Message: "hi"}, time.Hour))
	require.NoError(t, e.RemoveTimer(ctx, "test_handler", "test_timer_1"))

	keys, _, err := e.FetchAllTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestEngine_RemoveNonexistentTimerIsNoop(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	e := newTestEngine(t, r)
	require.NoError(t, e.RemoveTimer(context.Background(), "test_handler", "does_not_exist"))
}

func TestEngine_SetTimerUnknownTopicReturnsHandlerNotFound(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.SetTimer(ctx, "unknown_topic", "t1", enginePayload{Message: "hi"}, time.Hour)
	require.Error(t, err)

	var notFound *ErrHandlerNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "unknown_topic", notFound.Topic)
}

func TestEngine_RemoveTimerUnknownTopicReturnsHandlerNotFound(t *testing.T) {
	e := newTestEngine(t)
	err := e.RemoveTimer(context.Background(), "unknown_topic", "t1")
	require.Error(t, err)

	var notFound *ErrHandlerNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestEngine_HandleReadyTimersDispatchesImmediateTimer(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	e := newTestEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "test_timer_1", enginePayload{Message: "now"}, 0))
	require.NoError(t, e.HandleReadyTimers(ctx))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "now", rec.calls[0].Message)

	keys, _, err := e.FetchAllTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "dispatched timer must be removed from the store")
}

func TestEngine_HandleReadyTimersLeavesFutureTimerInPlace(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	e := newTestEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "future", enginePayload{Message: "later"}, time.Hour))
	require.NoError(t, e.HandleReadyTimers(ctx))

	assert.Equal(t, 0, rec.count())

	keys, _, err := e.FetchAllTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test_handler--future"}, keys)
}

func TestEngine_HandleReadyTimersDispatchesAcrossMultipleTopics(t *testing.T) {
	r := NewRouter()
	recA := &recordingHandlers{}
	recB := &recordingHandlers{}
	Handle(r, "test_handler", recA.handle)
	Handle(r, "another_topic", recB.handle)

	e := newTestEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "t1", enginePayload{Message: "a"}, 0))
	require.NoError(t, e.SetTimer(ctx, "another_topic", "t2", enginePayload{Message: "b"}, 0))

	require.NoError(t, e.HandleReadyTimers(ctx))

	assert.Equal(t, 1, recA.count())
	assert.Equal(t, 1, recB.count())
}

func TestEngine_HandleReadyTimersOnEmptyTimelineIsNoop(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.HandleReadyTimers(context.Background()))
}

func TestEngine_HandleReadyTimersZeroConcurrencyLimitIsNoop(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	client, _ := setupTestRedis(t)
	ctx := context.Background()

	seedCfg := testStoreConfig()
	seedEngine := NewEngine(client, seedCfg, nil, nil, nil, r)
	require.NoError(t, seedEngine.SetTimer(ctx, "test_handler", "t1", enginePayload{Message: "a"}, 0))

	zeroLimitCfg := seedCfg
	zeroLimitCfg.ConcurrentProcessingLimit = 0
	zeroLimitEngine := NewEngine(client, zeroLimitCfg, nil, nil, nil, r)

	require.NoError(t, zeroLimitEngine.HandleReadyTimers(ctx))
	assert.Equal(t, 0, rec.count(), "zero concurrency limit must not dispatch anything")
}

func TestEngine_HandleReadyTimersDropsUnknownTopicTimer(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "known_topic", rec.handle)

	client, _ := setupTestRedis(t)
	cfg := testStoreConfig()

	// Write the stray timer directly through the store, bypassing
	// SetTimer's handler-presence check — the way data left over from a
	// since-removed handler would appear in the timeline.
	s := newStore(client, cfg)
	require.NoError(t, s.upsert(context.Background(), compositeKey("stale_topic", "t1"), nowEpochSeconds()-1, []byte(`{}`)))

	e := NewEngine(client, cfg, nil, nil, nil, r)
	require.NoError(t, e.HandleReadyTimers(context.Background()))

	keys, _, err := e.FetchAllTimers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys, "a timer for an unregistered topic must be dropped from the store")
}

func TestEngine_DuplicateSetTimerReplacesEarlierSchedule(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	e := newTestEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "dup", enginePayload{Message: "first"}, time.Hour))
	require.NoError(t, e.SetTimer(ctx, "test_handler", "dup", enginePayload{Message: "second"}, 0))

	require.NoError(t, e.HandleReadyTimers(ctx))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "second", rec.calls[0].Message)
}

func TestEngine_HandleReadyTimersSkipsTimerUnderConsumeLock(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	client, _ := setupTestRedis(t)
	cfg := testStoreConfig()
	e := NewEngine(client, cfg, nil, nil, nil, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "locked", enginePayload{Message: "a"}, 0))

	key := compositeKey("test_handler", "locked")
	held := newConsumeLock(client, key, time.Minute, nil)
	ok, err := held.tryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.HandleReadyTimers(ctx))
	assert.Equal(t, 0, rec.count(), "a timer already under a consume lock must be skipped, not dispatched")

	keys, _, err := e.FetchAllTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys, "the skipped timer must remain in the store")
}

func TestEngine_HandleReadyTimersRetainsTimerOnHandlerError(t *testing.T) {
	r := NewRouter()
	handlerErr := errors.New("downstream unavailable")
	Handle(r, "test_handler", func(ctx context.Context, payload enginePayload, tctx Context) error {
		return handlerErr
	})

	e := newTestEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "t1", enginePayload{Message: "a"}, 0))

	err := e.HandleReadyTimers(ctx)
	require.Error(t, err, "a handler error must be surfaced from HandleReadyTimers")
	assert.ErrorIs(t, err, handlerErr)

	keys, _, fetchErr := e.FetchAllTimers(ctx)
	require.NoError(t, fetchErr)
	assert.Equal(t, []string{"test_handler--t1"}, keys, "a timer whose handler failed must be retained for retry")
}

func TestEngine_HandleReadyTimersMissingPayloadDropsOnlyTimelineEntry(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	client, _ := setupTestRedis(t)
	cfg := testStoreConfig()
	ctx := context.Background()

	// Seed a timeline entry with no corresponding payloads-hash entry — the
	// invariant-1 violation spec.md §3 says to tolerate by logging and
	// dropping, bypassing SetTimer (which always writes both atomically).
	key := compositeKey("test_handler", "orphan")
	require.NoError(t, client.ZAdd(ctx, cfg.TimelineKey, redis.Z{Score: nowEpochSeconds() - 1, Member: key}).Err())

	e := NewEngine(client, cfg, nil, nil, nil, r)
	require.NoError(t, e.HandleReadyTimers(ctx))

	assert.Equal(t, 0, rec.count(), "a handler must never run without a decoded payload")

	keys, payloads, err := e.FetchAllTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "the orphaned timeline entry must be dropped")
	assert.Empty(t, payloads)
}

func TestEngine_HandleReadyTimersInvalidPayloadDropsBothEntries(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	client, _ := setupTestRedis(t)
	cfg := testStoreConfig()
	ctx := context.Background()

	s := newStore(client, cfg)
	key := compositeKey("test_handler", "malformed")
	require.NoError(t, s.upsert(ctx, key, nowEpochSeconds()-1, []byte(`not-json`)))

	e := NewEngine(client, cfg, nil, nil, nil, r)
	require.NoError(t, e.HandleReadyTimers(ctx))

	assert.Equal(t, 0, rec.count(), "a handler must never run against an undecodable payload")

	keys, payloads, err := e.FetchAllTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "an undecodable timer's timeline entry must be dropped")
	assert.Empty(t, payloads, "an undecodable timer's payload entry must be dropped")
}

func TestEngine_SetTimerSkipsMutationUnderTimerLock(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	client, _ := setupTestRedis(t)
	cfg := testStoreConfig()
	e := NewEngine(client, cfg, nil, nil, nil, r)
	ctx := context.Background()

	key := compositeKey("test_handler", "contended")
	held := newTimerLock(client, key, time.Minute, nil)
	ok, err := held.tryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.SetTimer(ctx, "test_handler", "contended", enginePayload{Message: "a"}, time.Hour))

	keys, payloads, err := e.FetchAllTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "SetTimer must not write the timeline while timer_lock is held elsewhere")
	assert.Empty(t, payloads, "SetTimer must not write the payload while timer_lock is held elsewhere")
}

func TestEngine_RemoveTimerSkipsMutationUnderTimerLock(t *testing.T) {
	r := NewRouter()
	rec := &recordingHandlers{}
	Handle(r, "test_handler", rec.handle)

	e := newTestEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "contended", enginePayload{Message: "a"}, time.Hour))

	key := compositeKey("test_handler", "contended")
	held := newTimerLock(e.redis, key, time.Minute, nil)
	ok, err := held.tryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.RemoveTimer(ctx, "test_handler", "contended"))

	keys, _, err := e.FetchAllTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys, "RemoveTimer must not delete the timer while timer_lock is held elsewhere")
}

func TestEngine_HandlerCanExtendItsOwnConsumeLock(t *testing.T) {
	r := NewRouter()
	extended := make(chan error, 1)
	Handle(r, "test_handler", func(ctx context.Context, payload enginePayload, tctx Context) error {
		guard, ok := tctx[ConsumeLockGuardKey].(ConsumeLockGuard)
		if !ok {
			extended <- assert.AnError
			return nil
		}
		extended <- guard.Extend(ctx, time.Hour)
		return nil
	})

	e := newTestEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.SetTimer(ctx, "test_handler", "t1", enginePayload{Message: "a"}, 0))
	require.NoError(t, e.HandleReadyTimers(ctx))

	require.NoError(t, <-extended, "handler must be able to extend its consume lock via the Context guard")
}

package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSynth records spoken phrases and fails when it is entered twice.
type recordingSynth struct {
	mu      sync.Mutex
	spoken  []string
	active  int32
	overlap int32
	delay   time.Duration
	fail    map[string]error
}

func (r *recordingSynth) Speak(ctx context.Context, text string, opts Options) error {
	if atomic.AddInt32(&r.active, 1) > 1 {
		atomic.StoreInt32(&r.overlap, 1)
	}
	defer atomic.AddInt32(&r.active, -1)

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.spoken = append(r.spoken, text)
	r.mu.Unlock()

	if text == "panic" {
		panic("engine crashed")
	}
	return r.fail[text]
}

func (r *recordingSynth) Spoken() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

func startQueue(t *testing.T, synth Synthesizer, cfg QueueConfig) *Queue {
	t.Helper()

	q := NewQueue(synth, cfg)
	go func() {
		_ = q.Run(context.Background())
	}()
	return q
}

func drain(t *testing.T, q *Queue) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
}

func TestQueue_FIFONoOverlap(t *testing.T) {
	synth := &recordingSynth{delay: time.Millisecond}
	q := startQueue(t, synth, QueueConfig{MaxLen: 180})

	const n = 50
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(fmt.Sprintf("phrase %d", i), SourceLocal, 0)
		require.NoError(t, err)
	}
	drain(t, q)

	spoken := synth.Spoken()
	require.Len(t, spoken, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("phrase %d", i), spoken[i])
	}
	assert.Zero(t, atomic.LoadInt32(&synth.overlap), "two jobs ran at the same time")
}

func TestQueue_ConcurrentEnqueueRunsEveryJobOnce(t *testing.T) {
	synth := &recordingSynth{}
	q := startQueue(t, synth, QueueConfig{MaxLen: 180})

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = q.Enqueue(fmt.Sprintf("p%d", i), SourceChat, 0)
		}(i)
	}
	wg.Wait()
	drain(t, q)

	spoken := synth.Spoken()
	assert.Len(t, spoken, n)

	seen := make(map[string]bool, n)
	for _, s := range spoken {
		assert.False(t, seen[s], "phrase %q spoken twice", s)
		seen[s] = true
	}
	assert.Zero(t, atomic.LoadInt32(&synth.overlap))
}

func TestQueue_FailureDoesNotBlockNextJob(t *testing.T) {
	synth := &recordingSynth{fail: map[string]error{"bad": errors.New("engine unavailable")}}
	q := startQueue(t, synth, QueueConfig{MaxLen: 180})

	for _, p := range []string{"first", "bad", "panic", "last"} {
		_, err := q.Enqueue(p, SourceLocal, 0)
		require.NoError(t, err)
	}
	drain(t, q)

	assert.Equal(t, []string{"first", "bad", "panic", "last"}, synth.Spoken())
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := NewQueue(&recordingSynth{}, QueueConfig{MaxLen: 10})

	_, err := q.Enqueue("   ", SourceLocal, 0)
	assert.ErrorIs(t, err, ErrEmptyPhrase)

	job, err := q.Enqueue("this phrase is far too long", SourceChat, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "this phra…", job.Phrase)
	assert.Equal(t, SourceChat, job.Source)
	assert.Equal(t, 500*time.Millisecond, job.Pause)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_EnqueueAfterShutdown(t *testing.T) {
	q := startQueue(t, &recordingSynth{}, QueueConfig{MaxLen: 180})
	drain(t, q)

	_, err := q.Enqueue("late", SourceLocal, 0)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.True(t, q.Closed())
}

func TestQueue_PauseAfterEachJob(t *testing.T) {
	synth := &recordingSynth{}
	q := NewQueue(synth, QueueConfig{MaxLen: 180})

	var mu sync.Mutex
	var pauses []time.Duration
	q.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		pauses = append(pauses, d)
		mu.Unlock()
		return nil
	}
	go func() { _ = q.Run(context.Background()) }()

	_, _ = q.Enqueue("chat", SourceChat, 500*time.Millisecond)
	_, _ = q.Enqueue("gift", SourceGift, 400*time.Millisecond)
	_, _ = q.Enqueue("local", SourceLocal, 0)
	drain(t, q)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 400 * time.Millisecond}, pauses)
}

func TestQueue_JobTimeout(t *testing.T) {
	var sawDeadline atomic.Bool
	synth := SynthesizerFunc(func(ctx context.Context, text string, opts Options) error {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		assert.Equal(t, "Daniel", opts.Voice)
		return nil
	})

	q := startQueue(t, synth, QueueConfig{
		Options:    Options{Voice: "Daniel", Rate: 1},
		MaxLen:     180,
		JobTimeout: time.Minute,
	})
	_, _ = q.Enqueue("hello", SourceLocal, 0)
	drain(t, q)

	assert.True(t, sawDeadline.Load())
}

func TestQueue_RunStopsOnCancel(t *testing.T) {
	q := NewQueue(&recordingSynth{}, QueueConfig{MaxLen: 180})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestQueue_ShutdownTimesOut(t *testing.T) {
	block := make(chan struct{})
	synth := SynthesizerFunc(func(ctx context.Context, text string, opts Options) error {
		<-block
		return nil
	})
	q := startQueue(t, synth, QueueConfig{MaxLen: 180})
	defer close(block)

	_, _ = q.Enqueue("stuck", SourceLocal, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "did not drain"))
}

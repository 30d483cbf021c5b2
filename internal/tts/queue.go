package tts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/livetts/internal/observability"
	"github.com/lexiqai/livetts/internal/resilience"
	"github.com/lexiqai/livetts/internal/text"
)

// QueueConfig configures a speech queue.
type QueueConfig struct {
	Options    Options
	MaxLen     int           // Phrases are clipped to this many characters
	JobTimeout time.Duration // Upper bound on one Speak call, zero for none
}

// Queue runs speech jobs strictly one at a time in arrival order.
// Enqueue never blocks and never drops; a failing job is logged and the
// next one starts.
type Queue struct {
	synth  Synthesizer
	cfg    QueueConfig
	filter *text.Filter
	logger zerolog.Logger

	mu      sync.Mutex
	pending []Job
	closed  bool

	wake chan struct{}
	done chan struct{}
	once sync.Once

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewQueue creates a queue in front of synth. Call Run to start the worker.
func NewQueue(synth Synthesizer, cfg QueueConfig) *Queue {
	return &Queue{
		synth:  synth,
		cfg:    cfg,
		filter: text.NewFilter(1, cfg.MaxLen),
		logger: observability.Component("speech_queue"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		sleep:  resilience.Sleep,
		now:    time.Now,
	}
}

// Enqueue appends a phrase and returns immediately.
func (q *Queue) Enqueue(phrase, source string, pause time.Duration) (Job, error) {
	phrase = q.filter.Clip(strings.TrimSpace(phrase))
	if phrase == "" {
		return Job{}, ErrEmptyPhrase
	}

	job := Job{
		ID:         uuid.New().String(),
		Phrase:     phrase,
		Source:     source,
		EnqueuedAt: q.now(),
		Pause:      pause,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		observability.RecordSpeechDropped(source)
		return Job{}, ErrQueueClosed
	}
	q.pending = append(q.pending, job)
	depth := len(q.pending)
	q.mu.Unlock()

	observability.SetSpeechQueueDepth(depth)
	q.signal()

	return job, nil
}

// Len returns the number of jobs not yet started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Closed reports whether Shutdown has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Run is the single worker. It returns when ctx is cancelled or, after
// Shutdown, once every pending job has run. Run must be called once.
func (q *Queue) Run(ctx context.Context) error {
	defer q.once.Do(func() { close(q.done) })

	for {
		job, ok, closed := q.next()
		if !ok {
			if closed {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}

		q.process(ctx, job)

		if job.Pause > 0 {
			if err := q.sleep(ctx, job.Pause); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Shutdown stops accepting jobs and waits for the worker to drain what is
// already queued, or for ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("speech queue did not drain: %w", ctx.Err())
	}
}

func (q *Queue) next() (Job, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Job{}, false, q.closed
	}

	job := q.pending[0]
	q.pending[0] = Job{}
	q.pending = q.pending[1:]
	observability.SetSpeechQueueDepth(len(q.pending))

	return job, true, q.closed
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	start := q.now()
	waited := start.Sub(job.EnqueuedAt)

	jobCtx := ctx
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}

	err := q.speak(jobCtx, job.Phrase)
	took := q.now().Sub(start)
	observability.RecordSpeechJob(job.Source, err == nil, waited, took)

	if err != nil {
		observability.RecordError("speak_failed", "speech_queue")
		q.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("source", job.Source).
			Msg("TTS error")
		return
	}

	q.logger.Debug().
		Str("job_id", job.ID).
		Str("source", job.Source).
		Dur("took", took).
		Msg("Phrase spoken")
}

func (q *Queue) speak(ctx context.Context, phrase string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesizer panicked: %v", r)
		}
	}()
	return q.synth.Speak(ctx, phrase, q.cfg.Options)
}

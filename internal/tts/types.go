package tts

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyPhrase is returned when a job has nothing to say.
	ErrEmptyPhrase = errors.New("empty phrase")
	// ErrQueueClosed is returned by Enqueue after Shutdown.
	ErrQueueClosed = errors.New("speech queue is closed")
)

// Job sources.
const (
	SourceChat  = "chat"
	SourceGift  = "gift"
	SourceLocal = "local"
)

// Options are the voice settings applied to every phrase.
type Options struct {
	Voice string  // Engine-specific voice name, empty for the engine default
	Rate  float64 // 1.0 is the engine's normal speed
}

// Synthesizer speaks text and returns once playback has finished.
type Synthesizer interface {
	Speak(ctx context.Context, text string, opts Options) error
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string, opts Options) error

// Speak calls f.
func (f SynthesizerFunc) Speak(ctx context.Context, text string, opts Options) error {
	return f(ctx, text, opts)
}

// Job is one phrase waiting to be spoken.
type Job struct {
	ID         string
	Phrase     string
	Source     string
	EnqueuedAt time.Time
	Pause      time.Duration // Silence after the phrase
}

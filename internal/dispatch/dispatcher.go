// Package dispatch turns live room events and local input into speech jobs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/livetts/internal/live"
	"github.com/lexiqai/livetts/internal/observability"
	"github.com/lexiqai/livetts/internal/text"
	"github.com/lexiqai/livetts/internal/tts"
)

// Fallbacks for missing event fields.
const (
	DefaultChatUser = "Guest"
	DefaultGiftUser = "Viewer"
	DefaultGiftName = "gift"
)

// Enqueuer accepts phrases for speaking without blocking.
type Enqueuer interface {
	Enqueue(phrase, source string, pause time.Duration) (tts.Job, error)
}

// Config selects which events are read aloud and the pause after each.
type Config struct {
	ReadChat  bool
	ReadGifts bool
	ChatPause time.Duration
	GiftPause time.Duration
}

// Dispatcher converts live events into phrases. It is safe for
// concurrent use.
type Dispatcher struct {
	queue  Enqueuer
	filter *text.Filter
	cfg    Config
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher feeding queue.
func NewDispatcher(queue Enqueuer, filter *text.Filter, cfg Config) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		filter: filter,
		cfg:    cfg,
		logger: observability.Component("dispatcher"),
	}
}

// Handle implements live.Handler.
func (d *Dispatcher) Handle(ctx context.Context, ev live.Event) {
	switch e := ev.(type) {
	case live.Connected:
		d.logger.Info().Str("display_name", e.DisplayName).Msg("Connected to chat")
	case live.Disconnected:
		// Reconnecting is the manager's job.
		d.logger.Warn().Str("reason", e.Reason).Msg("Disconnected from chat")
	case live.Chat:
		d.onChat(e)
	case live.Gift:
		d.onGift(e)
	}
}

func (d *Dispatcher) onChat(e live.Chat) {
	if !d.cfg.ReadChat {
		return
	}

	msg, ok := d.filter.Accept(e.Text)
	if !ok {
		d.logger.Debug().Str("user", e.User).Msg("Chat message filtered")
		return
	}

	user := e.User
	if user == "" {
		user = DefaultChatUser
	}

	d.enqueue(ChatPhrase(user, msg), tts.SourceChat, d.cfg.ChatPause)
}

func (d *Dispatcher) onGift(e live.Gift) {
	if !d.cfg.ReadGifts {
		return
	}

	d.enqueue(GiftPhrase(e.User, e.GiftName, e.Count), tts.SourceGift, d.cfg.GiftPause)
}

func (d *Dispatcher) enqueue(phrase, source string, pause time.Duration) {
	job, err := d.queue.Enqueue(d.filter.Clip(phrase), source, pause)
	if err != nil {
		if !errors.Is(err, tts.ErrQueueClosed) {
			d.logger.Error().Err(err).Str("source", source).Msg("Failed to enqueue phrase")
		}
		return
	}
	d.logger.Info().Str("job_id", job.ID).Str("source", source).Str("phrase", job.Phrase).Msg("Queued")
}

// ChatPhrase formats a chat message for speaking.
func ChatPhrase(user, msg string) string {
	return fmt.Sprintf("%s says: %s", user, msg)
}

// GiftPhrase formats a gift for speaking, filling in missing fields.
func GiftPhrase(user, gift string, count int) string {
	if user == "" {
		user = DefaultGiftUser
	}
	if gift == "" {
		gift = DefaultGiftName
	}
	if count <= 0 {
		count = 1
	}
	return fmt.Sprintf("%s sent %d %s", user, count, gift)
}

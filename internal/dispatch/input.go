package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/livetts/internal/observability"
	"github.com/lexiqai/livetts/internal/text"
	"github.com/lexiqai/livetts/internal/tts"
)

const maxInputLine = 64 * 1024

// InputReader speaks lines typed on a local terminal, independent of the
// live connection.
type InputReader struct {
	r      io.Reader
	queue  Enqueuer
	filter *text.Filter
	pause  time.Duration
	logger zerolog.Logger
}

// NewInputReader creates a reader over r.
func NewInputReader(r io.Reader, queue Enqueuer, filter *text.Filter, pause time.Duration) *InputReader {
	return &InputReader{
		r:      r,
		queue:  queue,
		filter: filter,
		pause:  pause,
		logger: observability.Component("input"),
	}
}

// Run reads until EOF, a read error or ctx cancellation. A cancelled ctx
// is noticed at the next line; the blocked read itself is not interrupted.
// Lines longer than maxInputLine are cut and reading goes on.
func (in *InputReader) Run(ctx context.Context) error {
	br := bufio.NewReader(in.r)

	for {
		line, truncated, err := readLine(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if truncated {
			line = strings.ToValidUTF8(line, "")
			in.logger.Warn().Int("limit", maxInputLine).Msg("Input line too long, truncated")
		}

		msg, ok := in.filter.Accept(line)
		if !ok {
			continue
		}

		job, err := in.queue.Enqueue(msg, tts.SourceLocal, in.pause)
		if err != nil {
			if errors.Is(err, tts.ErrQueueClosed) {
				return nil
			}
			in.logger.Error().Err(err).Msg("Failed to enqueue input")
			continue
		}
		in.logger.Info().Str("job_id", job.ID).Str("phrase", job.Phrase).Msg("Queued local input")
	}
}

// readLine returns the next line without its terminator, keeping at most
// maxInputLine bytes and discarding the rest of the line.
func readLine(br *bufio.Reader) (string, bool, error) {
	var (
		buf       []byte
		truncated bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(buf) > 0 {
				return string(buf), truncated, nil
			}
			return "", false, err
		}

		if room := maxInputLine - len(buf); len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		buf = append(buf, chunk...)

		if !isPrefix {
			return string(buf), truncated, nil
		}
	}
}

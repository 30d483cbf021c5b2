package tts

import (
	"context"
	"math"
	"os/exec"
	"runtime"
	"strconv"
)

// baseWordsPerMinute is the speaking rate that Options.Rate 1.0 maps to.
const baseWordsPerMinute = 175

// SystemEngine speaks through the platform speech command: say on macOS,
// espeak-ng elsewhere.
type SystemEngine struct {
	command string
	runner  Runner
}

// NewSystemEngine resolves command (or the platform default) on PATH.
func NewSystemEngine(command string, runner Runner) (*SystemEngine, error) {
	if command == "" {
		command = defaultSystemCommand()
	}

	resolved, err := exec.LookPath(command)
	if err != nil {
		return nil, err
	}

	return &SystemEngine{command: resolved, runner: runner}, nil
}

func defaultSystemCommand() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak-ng"
}

// Speak runs the speech command and waits for it to finish talking.
func (s *SystemEngine) Speak(ctx context.Context, text string, opts Options) error {
	if text == "" {
		return ErrEmptyPhrase
	}
	return s.runner.Run(ctx, text, s.command, systemArgs(baseName(s.command), opts)...)
}

func systemArgs(command string, opts Options) []string {
	var args []string
	if opts.Voice != "" {
		args = append(args, "-v", opts.Voice)
	}

	rateFlag := "-s"
	if command == "say" {
		rateFlag = "-r"
	}
	if opts.Rate > 0 {
		wpm := int(math.Round(baseWordsPerMinute * opts.Rate))
		args = append(args, rateFlag, strconv.Itoa(wpm))
	}

	// say reads stdin when given no text; espeak-ng needs to be told.
	if command != "say" {
		args = append(args, "--stdin")
	}
	return args
}

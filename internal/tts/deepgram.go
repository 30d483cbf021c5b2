package tts

import (
	"context"
	"fmt"
	"os"

	speakapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speakclient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"
)

type saveFunc func(ctx context.Context, path, text string, opts *interfaces.SpeakOptions) error

// DeepgramEngine renders phrases with Deepgram Aura into a temporary file
// and plays it.
type DeepgramEngine struct {
	model  string
	save   saveFunc
	player *Player
}

// NewDeepgramEngine creates an engine authenticated with apiKey.
func NewDeepgramEngine(apiKey, model string, player *Player) *DeepgramEngine {
	client := speakclient.NewREST(apiKey, &interfaces.ClientOptions{})
	dg := speakapi.New(client)

	return &DeepgramEngine{
		model: model,
		save: func(ctx context.Context, path, text string, opts *interfaces.SpeakOptions) error {
			_, err := dg.ToSave(ctx, path, text, opts)
			return err
		},
		player: player,
	}
}

// Speak synthesizes text and blocks until playback ends. Deepgram has no
// per-request rate control, so opts.Rate is ignored; opts.Voice overrides
// the configured model.
func (d *DeepgramEngine) Speak(ctx context.Context, text string, opts Options) error {
	if text == "" {
		return ErrEmptyPhrase
	}

	model := d.model
	if opts.Voice != "" {
		model = opts.Voice
	}

	path, cleanup, err := tempAudioFile("mp3")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := d.save(ctx, path, text, &interfaces.SpeakOptions{Model: model}); err != nil {
		return fmt.Errorf("deepgram synthesis failed: %w", err)
	}

	return d.player.Play(ctx, path)
}

func tempAudioFile(ext string) (string, func(), error) {
	f, err := os.CreateTemp("", "livetts-*."+ext)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create audio file: %w", err)
	}
	path := f.Name()
	_ = f.Close()

	return path, func() { _ = os.Remove(path) }, nil
}

package tts

import (
	"fmt"

	"github.com/lexiqai/livetts/internal/config"
)

// NewFromConfig builds the synthesizer selected by TTS_ENGINE.
func NewFromConfig(cfg *config.Config) (Synthesizer, error) {
	runner := NewCommandRunner(cfg.TTSTimeoutDuration())

	switch cfg.TTSEngine {
	case config.EngineSystem, "":
		engine, err := NewSystemEngine(cfg.TTSCommand, runner)
		if err != nil {
			return nil, fmt.Errorf("system speech command not available: %w", err)
		}
		return engine, nil

	case config.EngineDeepgram:
		return NewDeepgramEngine(cfg.DeepgramAPIKey, cfg.DeepgramModel, NewPlayer(cfg.TTSPlayer, runner)), nil

	case config.EngineCartesia:
		return NewCartesiaEngine(cfg.CartesiaAPIKey, cfg.CartesiaModelID, cfg.CartesiaVoiceID, NewPlayer(cfg.TTSPlayer, runner)), nil
	}

	return nil, fmt.Errorf("unsupported tts engine: %s", cfg.TTSEngine)
}

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	cartesiaAPIURL  = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion = "2024-06-10"
)

// CartesiaEngine renders phrases with Cartesia's bytes endpoint and plays
// the resulting WAV.
type CartesiaEngine struct {
	apiKey     string
	apiURL     string
	modelID    string
	voiceID    string
	httpClient *http.Client
	player     *Player
}

type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Speed        string               `json:"speed,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// NewCartesiaEngine creates a Cartesia engine.
func NewCartesiaEngine(apiKey, modelID, voiceID string, player *Player) *CartesiaEngine {
	return &CartesiaEngine{
		apiKey:  apiKey,
		apiURL:  cartesiaAPIURL,
		modelID: modelID,
		voiceID: voiceID,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		player: player,
	}
}

// Speak synthesizes text and blocks until playback ends. opts.Voice
// overrides the configured voice id.
func (c *CartesiaEngine) Speak(ctx context.Context, text string, opts Options) error {
	if text == "" {
		return ErrEmptyPhrase
	}

	voiceID := c.voiceID
	if opts.Voice != "" {
		voiceID = opts.Voice
	}

	reqBody := cartesiaRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: voiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "wav",
			Encoding:   "pcm_s16le",
			SampleRate: 44100,
		},
		Speed: cartesiaSpeed(opts.Rate),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cartesia API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	path, cleanup, err := tempAudioFile("wav")
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to read cartesia audio: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("cartesia returned empty audio")
	}

	return c.player.Play(ctx, path)
}

// cartesiaSpeed maps a rate multiplier onto Cartesia's named speeds.
func cartesiaSpeed(rate float64) string {
	switch {
	case rate <= 0 || (rate > 0.9 && rate < 1.1):
		return ""
	case rate <= 0.6:
		return "slowest"
	case rate <= 0.9:
		return "slow"
	case rate >= 1.6:
		return "fastest"
	default:
		return "fast"
	}
}

package processors

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"screenTimeline/config"
)

// Transcriber converts one audio chunk file into text. Implementations
// honor ctx for timeout and cancellation.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// WhisperTranscriber calls an OpenAI-compatible transcription endpoint.
type WhisperTranscriber struct {
	cli   *openai.Client
	model string
}

func NewWhisperTranscriber(cli *openai.Client, model string) *WhisperTranscriber {
	return &WhisperTranscriber{cli: cli, model: model}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := w.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// MockTranscriber emits deterministic placeholder text. Used when no API
// is configured so the rest of the pipeline stays exercisable.
type MockTranscriber struct{}

func (MockTranscriber) Transcribe(_ context.Context, audioPath string) (string, error) {
	return fmt.Sprintf("Placeholder transcript for %s", strings.TrimSuffix(
		strings.TrimPrefix(audioPath, "/"), ".wav")), nil
}

// OpenAIClient builds the shared API client from configuration.
func OpenAIClient() *openai.Client {
	cfg, err := config.LoadConfig()
	if err != nil {
		return openai.NewClient(os.Getenv("API_KEY"))
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

// PickTranscriber selects the provider: ASR=mock forces the mock, otherwise
// the API transcriber when configured, with a mock fallback.
func PickTranscriber(cfg *config.Config) Transcriber {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("ASR")), "mock") {
		return MockTranscriber{}
	}
	if !cfg.HasValidAPI() {
		config.PrintConfigInstructions()
		log.Printf("no API configured, using mock transcription")
		return MockTranscriber{}
	}
	return NewWhisperTranscriber(OpenAIClient(), cfg.TranscribeModel)
}

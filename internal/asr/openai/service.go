// Package openai adapts the Whisper transcription API to the recognition
// service chain. Audio travels as a temporary WAV file per request.
package openai

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rbright/dictum/internal/asr"
)

// Options configures the Whisper service.
type Options struct {
	// APIKey falls back to OPENAI_API_KEY when empty.
	APIKey string
	// BaseURL points at a self-hosted gateway, including the /v1 prefix.
	BaseURL string
	Model   string
	// Prompt biases recognition toward expected vocabulary.
	Prompt string
}

// Service transcribes through the Whisper API. The HTTP client is cached
// and recycled on Reset.
type Service struct {
	opts Options

	mu     sync.Mutex
	client *openai.Client
}

// New builds an unconnected service.
func New(opts Options) *Service {
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = openai.Whisper1
	}
	return &Service{opts: opts}
}

// Name identifies the service in logs and results.
func (s *Service) Name() string { return "openai" }

// Recognize transcribes the utterance with the configured model and
// vocabulary prompt.
func (s *Service) Recognize(ctx context.Context, audio asr.Audio, language string) (string, error) {
	client, err := s.cachedClient()
	if err != nil {
		return "", err
	}
	return transcribe(ctx, client, transcribeRequest{
		model:    s.opts.Model,
		prompt:   s.opts.Prompt,
		language: language,
		audio:    audio,
	})
}

// RecognizeIsolated retries on a fresh client with the stock model and no
// prompt, so tuning cannot mask speech the base model would catch.
func (s *Service) RecognizeIsolated(ctx context.Context, audio asr.Audio, language string) (string, error) {
	key, err := s.apiKey()
	if err != nil {
		return "", err
	}
	client := newClient(key, s.opts.BaseURL)
	return transcribe(ctx, client, transcribeRequest{
		model:    openai.Whisper1,
		language: language,
		audio:    audio,
	})
}

// Reset drops the cached client so the next call builds a fresh one.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	return nil
}

func (s *Service) cachedClient() (*openai.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	key, err := s.apiKey()
	if err != nil {
		return nil, err
	}
	s.client = newClient(key, s.opts.BaseURL)
	return s.client, nil
}

func (s *Service) apiKey() (string, error) {
	key := strings.TrimSpace(s.opts.APIKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if key == "" {
		return "", fmt.Errorf("%w: OPENAI_API_KEY is not set", asr.ErrUnavailable)
	}
	return key, nil
}

func newClient(key string, baseURL string) *openai.Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return openai.NewClient(key)
	}
	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return openai.NewClientWithConfig(cfg)
}

type transcribeRequest struct {
	model    string
	prompt   string
	language string
	audio    asr.Audio
}

func transcribe(ctx context.Context, client *openai.Client, req transcribeRequest) (string, error) {
	dir, err := os.MkdirTemp("", "dictum-asr-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "utterance.wav")
	if err := asr.WriteWAVFile(path, req.audio); err != nil {
		return "", err
	}

	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    req.model,
		FilePath: path,
		Prompt:   req.prompt,
		Language: iso639(req.language),
	})
	if err != nil {
		return "", fmt.Errorf("create transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// iso639 maps BCP-47 tags onto the bare language codes Whisper accepts,
// for example en-US to en.
func iso639(language string) string {
	language = strings.TrimSpace(language)
	if i := strings.IndexRune(language, '-'); i > 0 {
		language = language[:i]
	}
	return strings.ToLower(language)
}

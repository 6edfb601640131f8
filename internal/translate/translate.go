// Package translate rewrites finished transcripts into a target language
// through a chat-completion model. The session invokes it only when the
// spoken language differs from the configured target.
package translate

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = openai.GPT4oMini

// Translator rewrites text from a source language into a target language.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Noop passes text through unchanged.
type Noop struct{}

// Translate returns the text as-is.
func (Noop) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// Options configures the OpenAI translator.
type Options struct {
	// APIKey falls back to OPENAI_API_KEY when empty.
	APIKey string
	// BaseURL points the client at an OpenAI-compatible gateway, including
	// any /v1 prefix the gateway expects. Empty uses the public API.
	BaseURL string
	// Model names the chat model. Empty falls back to gpt-4o-mini.
	Model string
}

// OpenAI translates through the chat completion API.
type OpenAI struct {
	opts Options

	mu     sync.Mutex
	client *openai.Client
}

// NewOpenAI builds a translator from options, applying defaults.
func NewOpenAI(opts Options) *OpenAI {
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = defaultModel
	}
	return &OpenAI{opts: opts}
}

// Translate asks the chat model to rewrite text into the target language.
// Blank input comes back unchanged without a network call.
func (o *OpenAI) Translate(ctx context.Context, text, source, target string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text, nil
	}

	client, err := o.cachedClient()
	if err != nil {
		return "", err
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(source, target)},
			{Role: openai.ChatMessageRoleUser, Content: trimmed},
		},
		// The request encoder drops a zero temperature, so the smallest
		// positive value stands in for fully deterministic output.
		Temperature: math.SmallestNonzeroFloat32,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	out := cleanTranslation(resp.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("chat completion returned an empty translation")
	}
	return out, nil
}

// Reset drops the cached client so the next call rebuilds it.
func (o *OpenAI) Reset(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.client = nil
	return nil
}

func (o *OpenAI) cachedClient() (*openai.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client != nil {
		return o.client, nil
	}

	key := strings.TrimSpace(o.opts.APIKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if key == "" {
		return nil, fmt.Errorf("translation needs an API key: OPENAI_API_KEY is not set")
	}

	if baseURL := strings.TrimSpace(o.opts.BaseURL); baseURL != "" {
		cfg := openai.DefaultConfig(key)
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
		o.client = openai.NewClientWithConfig(cfg)
	} else {
		o.client = openai.NewClient(key)
	}
	return o.client, nil
}

func systemPrompt(source, target string) string {
	return fmt.Sprintf(
		"You translate dictated text from %s to %s. Preserve the meaning, tone, and punctuation of the original. Reply with only the translated text, without commentary, labels, or surrounding quotation marks.",
		languageName(source), languageName(target),
	)
}

// cleanTranslation strips label prefixes some models prepend despite the
// prompt, then trims whitespace.
func cleanTranslation(s string) string {
	s = strings.TrimSpace(s)
	for _, label := range []string{"Translation:", "Translated text:"} {
		if len(s) >= len(label) && strings.EqualFold(s[:len(label)], label) {
			s = strings.TrimSpace(s[len(label):])
			break
		}
	}
	return s
}

// SameLanguage reports whether two language tags share a primary subtag, so
// "en-US" dictation with an "en" target needs no translation pass.
func SameLanguage(a, b string) bool {
	return baseTag(a) == baseTag(b)
}

func baseTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

var languageNames = map[string]string{
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"nl": "Dutch",
	"pl": "Polish",
	"pt": "Portuguese",
	"ru": "Russian",
	"zh": "Chinese",
}

// languageName renders a tag for the prompt, preferring a human-readable
// name over a raw code.
func languageName(tag string) string {
	if name, ok := languageNames[baseTag(tag)]; ok {
		return name
	}
	if trimmed := strings.TrimSpace(tag); trimmed != "" {
		return trimmed
	}
	return "the original language"
}

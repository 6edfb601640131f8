// Package aws adapts Amazon Transcribe streaming to the recognition
// service chain.
package aws

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"github.com/rbright/dictum/internal/asr"
)

const (
	// Direct mode pushes quarter-second event frames back to back;
	// continuous mode feeds 100ms frames with a short gap so partial
	// results stabilize the way they do on live audio.
	directChunkBytes   = 8 * 1024
	continuousChunkMS  = 100
	continuousSendPace = 25 * time.Millisecond
)

// Options configures the Transcribe service.
type Options struct {
	Region string
	// Language overrides the per-session language, for dialects the
	// streaming API does not accept.
	Language string
	// BaseEndpoint overrides the service endpoint.
	BaseEndpoint string
}

// Service transcribes through Amazon Transcribe streaming. The client is
// built from the default credential chain and recycled on Reset.
type Service struct {
	opts Options

	mu     sync.Mutex
	client *transcribestreaming.Client
}

// New builds an unconnected service.
func New(opts Options) *Service {
	return &Service{opts: opts}
}

// Name identifies the service in logs and results.
func (s *Service) Name() string { return "aws" }

// Recognize streams the whole utterance as fast as the event stream
// accepts it.
func (s *Service) Recognize(ctx context.Context, audio asr.Audio, language string) (string, error) {
	return s.run(ctx, audio, language, directChunkBytes, 0)
}

// RecognizeStream paces real-time-sized frames so partial results arrive
// with live boundaries.
func (s *Service) RecognizeStream(ctx context.Context, audio asr.Audio, language string) (string, error) {
	chunk := audio.SampleRate * continuousChunkMS / 1000 * 2
	return s.run(ctx, audio, language, chunk, continuousSendPace)
}

// Reset drops the cached client so the next call rebuilds it from the
// credential chain.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	return nil
}

func (s *Service) run(ctx context.Context, audio asr.Audio, language string, chunkBytes int, pace time.Duration) (string, error) {
	client, err := s.cachedClient(ctx)
	if err != nil {
		return "", err
	}

	out, err := client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(s.streamLanguage(language)),
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(int32(audio.SampleRate)),
	})
	if err != nil {
		return "", fmt.Errorf("start stream transcription: %w", err)
	}
	stream := out.GetStream()
	defer func() { _ = stream.Close() }()

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sendAudio(ctx, stream, audio.Bytes(), chunkBytes, pace)
	}()

	text, err := collectTranscript(ctx, stream)
	if err != nil {
		return "", err
	}
	if err := <-sendErr; err != nil {
		return "", fmt.Errorf("send audio: %w", err)
	}
	return text, nil
}

func (s *Service) cachedClient(ctx context.Context) (*transcribestreaming.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(s.opts.Region); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", asr.ErrUnavailable, err)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("%w: resolve aws credentials: %v", asr.ErrUnavailable, err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("%w: aws region is not configured", asr.ErrUnavailable)
	}

	s.client = transcribestreaming.NewFromConfig(cfg, func(o *transcribestreaming.Options) {
		if endpoint := strings.TrimSpace(s.opts.BaseEndpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return s.client, nil
}

// streamLanguage picks the configured override, then maps dialects the
// streaming API rejects onto their supported siblings.
func (s *Service) streamLanguage(language string) string {
	if override := strings.TrimSpace(s.opts.Language); override != "" {
		return override
	}
	language = strings.TrimSpace(language)
	if language == "" {
		return "en-US"
	}
	switch language {
	case "pt-PT":
		return "pt-BR"
	case "es-ES":
		return "es-US"
	}
	return language
}

func sendAudio(ctx context.Context, stream *transcribestreaming.StartStreamTranscriptionEventStream, pcm []byte, chunkBytes int, pace time.Duration) error {
	if chunkBytes <= 0 {
		chunkBytes = directChunkBytes
	}
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		err := stream.Send(ctx, &types.AudioStreamMemberAudioEvent{
			Value: types.AudioEvent{AudioChunk: pcm[:n]},
		})
		if err != nil {
			return err
		}
		pcm = pcm[n:]

		if pace > 0 && len(pcm) > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pace):
			}
		}
	}
	return stream.Close()
}

func collectTranscript(ctx context.Context, stream *transcribestreaming.StartStreamTranscriptionEventStream) (string, error) {
	acc := newTranscriptAccumulator()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					return "", fmt.Errorf("transcript stream: %w", err)
				}
				return acc.text(), nil
			}
			transcriptEvent, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
			if !ok || transcriptEvent.Value.Transcript == nil {
				continue
			}
			for _, result := range transcriptEvent.Value.Transcript.Results {
				acc.record(result)
			}
		}
	}
}

// transcriptAccumulator replaces partial hypotheses by result id so the
// final text reflects the newest version of every segment, in order.
type transcriptAccumulator struct {
	order []string
	byID  map[string]string
}

func newTranscriptAccumulator() *transcriptAccumulator {
	return &transcriptAccumulator{byID: map[string]string{}}
}

func (a *transcriptAccumulator) record(result types.Result) {
	if len(result.Alternatives) == 0 {
		return
	}
	text := strings.TrimSpace(aws.ToString(result.Alternatives[0].Transcript))
	if text == "" {
		return
	}

	id := aws.ToString(result.ResultId)
	if _, seen := a.byID[id]; !seen {
		a.order = append(a.order, id)
	}
	a.byID[id] = text
}

func (a *transcriptAccumulator) text() string {
	parts := make([]string, 0, len(a.order))
	for _, id := range a.order {
		parts = append(parts, a.byID[id])
	}
	return strings.Join(parts, " ")
}

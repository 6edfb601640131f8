// Package google adapts Cloud Speech-to-Text to the recognition service
// chain, including self-hosted gateways reached over plaintext gRPC.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rbright/dictum/internal/asr"
)

const (
	defaultDialTimeout = 3 * time.Second

	// Direct mode pushes the whole utterance as fast as the stream accepts
	// it; continuous mode feeds real-time-sized chunks so interim results
	// arrive with usable boundaries.
	directChunkBytes  = 32 * 1024
	continuousChunkMS = 100
)

// Phrase is one vocabulary boost phrase in request-ready form.
type Phrase struct {
	Text  string
	Boost float32
}

// Options configures the Cloud Speech service.
type Options struct {
	// Endpoint overrides the public API with a self-hosted gateway,
	// dialled with insecure transport credentials.
	Endpoint             string
	Model                string
	AutomaticPunctuation bool
	Phrases              []Phrase
	DialTimeout          time.Duration
	DebugResponseSink    io.Writer
}

// Service recognizes speech through Cloud Speech-to-Text. The client handle
// is dialled lazily and recycled on Reset.
type Service struct {
	opts Options

	mu     sync.Mutex
	client *speech.Client
	conn   *grpc.ClientConn // set only for endpoint-override dials
}

// New builds an undialled service.
func New(opts Options) *Service {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &Service{opts: opts}
}

// Name identifies the service in logs and results.
func (s *Service) Name() string { return "google" }

// Recognize streams the whole utterance in one shot and collects final
// results only.
func (s *Service) Recognize(ctx context.Context, audio asr.Audio, language string) (string, error) {
	client, err := s.cachedClient(ctx)
	if err != nil {
		return "", err
	}

	st, err := openStream(ctx, client, streamConfig{
		recognition: s.recognitionConfig(audio.SampleRate, language, true),
		debugSink:   s.opts.DebugResponseSink,
	})
	if err != nil {
		return "", err
	}
	if err := sendChunks(st, audio.Bytes(), directChunkBytes); err != nil {
		st.cancel()
		return "", fmt.Errorf("send audio: %w", err)
	}

	segments, _, err := st.closeAndCollect(ctx)
	if err != nil {
		return "", fmt.Errorf("collect transcript: %w", err)
	}
	return strings.Join(segments, " "), nil
}

// RecognizeStream feeds real-time-sized chunks and merges interim
// hypotheses into committed segments.
func (s *Service) RecognizeStream(ctx context.Context, audio asr.Audio, language string) (string, error) {
	client, err := s.cachedClient(ctx)
	if err != nil {
		return "", err
	}

	st, err := openStream(ctx, client, streamConfig{
		recognition: s.recognitionConfig(audio.SampleRate, language, true),
		interim:     true,
		debugSink:   s.opts.DebugResponseSink,
	})
	if err != nil {
		return "", err
	}
	chunkBytes := audio.SampleRate * continuousChunkMS / 1000 * 2
	if err := sendChunks(st, audio.Bytes(), chunkBytes); err != nil {
		st.cancel()
		return "", fmt.Errorf("send audio: %w", err)
	}

	segments, _, err := st.closeAndCollect(ctx)
	if err != nil {
		return "", fmt.Errorf("collect transcript: %w", err)
	}
	return strings.Join(segments, " "), nil
}

// RecognizeIsolated retries on a fresh client with a minimal config, so a
// poisoned cached handle or an over-tuned request cannot mask speech.
func (s *Service) RecognizeIsolated(ctx context.Context, audio asr.Audio, language string) (string, error) {
	client, conn, err := dialClient(ctx, s.opts.Endpoint, s.opts.DialTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: %v", asr.ErrUnavailable, err)
	}
	defer func() {
		_ = client.Close()
		if conn != nil {
			_ = conn.Close()
		}
	}()

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: s.recognitionConfig(audio.SampleRate, language, false),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Bytes()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("recognize isolated: %w", err)
	}

	var segments []string
	for _, result := range resp.GetResults() {
		if alternatives := result.GetAlternatives(); len(alternatives) > 0 {
			segments = appendSegment(segments, alternatives[0].GetTranscript())
		}
	}
	return strings.Join(segments, " "), nil
}

// Reset closes the cached client so the next call dials fresh.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	client, conn := s.client, s.conn
	s.client, s.conn = nil, nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	err := client.Close()
	if conn != nil {
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("close speech client: %w", err)
	}
	return nil
}

func (s *Service) cachedClient(ctx context.Context) (*speech.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	client, conn, err := dialClient(ctx, s.opts.Endpoint, s.opts.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", asr.ErrUnavailable, err)
	}
	s.client, s.conn = client, conn
	return client, nil
}

// dialClient connects either to the public API through default credentials
// or to an endpoint override over plaintext gRPC.
func dialClient(ctx context.Context, endpoint string, dialTimeout time.Duration) (*speech.Client, *grpc.ClientConn, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		client, err := speech.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create speech client: %w", err)
		}
		return client, nil, nil
	}

	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("dial speech grpc %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("wait for speech grpc readiness: %w", err)
	}

	client, err := speech.NewClient(ctx, option.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create speech client: %w", err)
	}
	return client, conn, nil
}

func (s *Service) recognitionConfig(sampleRate int, language string, tuned bool) *speechpb.RecognitionConfig {
	cfg := &speechpb.RecognitionConfig{
		Encoding:          speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:   int32(sampleRate),
		AudioChannelCount: 1,
		LanguageCode:      languageOrDefault(language),
	}
	if !tuned {
		return cfg
	}

	cfg.EnableAutomaticPunctuation = s.opts.AutomaticPunctuation
	cfg.Model = strings.TrimSpace(s.opts.Model)
	for _, phrase := range s.opts.Phrases {
		text := strings.TrimSpace(phrase.Text)
		if text == "" {
			continue
		}
		cfg.SpeechContexts = append(cfg.SpeechContexts, &speechpb.SpeechContext{
			Phrases: []string{text},
			Boost:   phrase.Boost,
		})
	}
	return cfg
}

func sendChunks(st *stream, pcm []byte, chunkBytes int) error {
	if chunkBytes <= 0 {
		chunkBytes = directChunkBytes
	}
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		if err := st.sendAudio(pcm[:n]); err != nil {
			return err
		}
		pcm = pcm[n:]
	}
	return nil
}

func languageOrDefault(language string) string {
	if strings.TrimSpace(language) == "" {
		return "en-US"
	}
	return language
}

// waitForReady blocks until the gRPC connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}

package google

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rbright/dictum/internal/asr"
)

func testUtterance() asr.Audio {
	return asr.Audio{PCM: make([]int16, 16000), SampleRate: 16000}
}

func TestRecognizeCollectsFinalsThroughLocalGateway(t *testing.T) {
	server := &testSpeechServer{
		responses: []*speechpb.StreamingRecognizeResponse{
			finalResponse("hello world"),
			finalResponse("second phrase"),
		},
	}
	endpoint := startTestSpeechServer(t, server)

	var debug bytes.Buffer
	svc := New(Options{
		Endpoint:             endpoint,
		Model:                "latest_short",
		AutomaticPunctuation: true,
		Phrases: []Phrase{
			{Text: "  Dictum  ", Boost: 12},
			{Text: "", Boost: 20},
		},
		DialTimeout:       2 * time.Second,
		DebugResponseSink: &debug,
	})
	t.Cleanup(func() { _ = svc.Reset(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text, err := svc.Recognize(ctx, testUtterance(), "en-US")
	require.NoError(t, err)
	require.Equal(t, "hello world second phrase", text)

	cfgs := server.streamConfigs()
	require.Len(t, cfgs, 1)
	cfg := cfgs[0]
	require.False(t, cfg.InterimResults)
	require.Equal(t, speechpb.RecognitionConfig_LINEAR16, cfg.Config.Encoding)
	require.Equal(t, int32(16000), cfg.Config.SampleRateHertz)
	require.Equal(t, int32(1), cfg.Config.AudioChannelCount)
	require.Equal(t, "en-US", cfg.Config.LanguageCode)
	require.Equal(t, "latest_short", cfg.Config.Model)
	require.True(t, cfg.Config.EnableAutomaticPunctuation)
	require.Len(t, cfg.Config.SpeechContexts, 1)
	require.Equal(t, []string{"Dictum"}, cfg.Config.SpeechContexts[0].Phrases)

	require.GreaterOrEqual(t, server.chunkCount(), 1)
	require.Equal(t, 32000, server.byteCount())

	require.Contains(t, debug.String(), "results")
}

func TestRecognizeStreamMergesInterimAndFinal(t *testing.T) {
	server := &testSpeechServer{
		responses: []*speechpb.StreamingRecognizeResponse{
			interimResponse("hello wor", 0, 0),
			finalResponse("hello world"),
			interimResponse("second phrase", 0, 0),
		},
	}
	endpoint := startTestSpeechServer(t, server)

	svc := New(Options{Endpoint: endpoint, DialTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = svc.Reset(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text, err := svc.RecognizeStream(ctx, testUtterance(), "en-US")
	require.NoError(t, err)
	require.Equal(t, "hello world second phrase", text)

	cfgs := server.streamConfigs()
	require.Len(t, cfgs, 1)
	require.True(t, cfgs[0].InterimResults)

	// one second of audio in 100ms chunks
	require.Equal(t, 10, server.chunkCount())
}

func TestRecognizeIsolatedUsesFreshMinimalClient(t *testing.T) {
	server := &testSpeechServer{unaryTranscript: "isolated text"}
	endpoint := startTestSpeechServer(t, server)

	svc := New(Options{
		Endpoint:             endpoint,
		Model:                "latest_short",
		AutomaticPunctuation: true,
		Phrases:              []Phrase{{Text: "Dictum", Boost: 12}},
		DialTimeout:          2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text, err := svc.RecognizeIsolated(ctx, testUtterance(), "pt-PT")
	require.NoError(t, err)
	require.Equal(t, "isolated text", text)

	cfg := server.unaryRecognitionConfig()
	require.NotNil(t, cfg)
	require.Equal(t, "pt-PT", cfg.LanguageCode)
	require.Empty(t, cfg.Model)
	require.Empty(t, cfg.SpeechContexts)
	require.False(t, cfg.EnableAutomaticPunctuation)
}

func TestRecognizeSurfacesServerStreamError(t *testing.T) {
	server := &testSpeechServer{streamErr: status.Error(codes.Internal, "boom")}
	endpoint := startTestSpeechServer(t, server)

	svc := New(Options{Endpoint: endpoint, DialTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = svc.Reset(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := svc.Recognize(ctx, testUtterance(), "en-US")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestRecognizeUnavailableWhenGatewayUnreachable(t *testing.T) {
	svc := New(Options{Endpoint: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := svc.Recognize(ctx, testUtterance(), "en-US")
	require.ErrorIs(t, err, asr.ErrUnavailable)
	require.Contains(t, err.Error(), "readiness")
}

func TestRecognizeUnavailableWithoutCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", filepath.Join(t.TempDir(), "missing.json"))

	svc := New(Options{})
	_, err := svc.Recognize(context.Background(), testUtterance(), "en-US")
	require.ErrorIs(t, err, asr.ErrUnavailable)
}

func TestResetRecyclesCachedClient(t *testing.T) {
	server := &testSpeechServer{
		responses: []*speechpb.StreamingRecognizeResponse{finalResponse("hello")},
	}
	endpoint := startTestSpeechServer(t, server)

	svc := New(Options{Endpoint: endpoint, DialTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = svc.Reset(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := svc.Recognize(ctx, testUtterance(), "en-US")
	require.NoError(t, err)
	require.NoError(t, svc.Reset(ctx))

	_, err = svc.Recognize(ctx, testUtterance(), "en-US")
	require.NoError(t, err)
	require.Len(t, server.streamConfigs(), 2)

	require.NoError(t, New(Options{}).Reset(ctx))
}

type testSpeechServer struct {
	speechpb.UnimplementedSpeechServer

	responses       []*speechpb.StreamingRecognizeResponse
	streamErr       error
	unaryTranscript string

	mu          sync.Mutex
	configs     []*speechpb.StreamingRecognitionConfig
	audioChunks int
	audioBytes  int
	unaryConfig *speechpb.RecognitionConfig
}

func (s *testSpeechServer) StreamingRecognize(stream grpc.BidiStreamingServer[speechpb.StreamingRecognizeRequest, speechpb.StreamingRecognizeResponse]) error {
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if cfg := req.GetStreamingConfig(); cfg != nil {
			s.mu.Lock()
			s.configs = append(s.configs, cfg)
			s.mu.Unlock()
			continue
		}
		if audio := req.GetAudioContent(); len(audio) > 0 {
			s.mu.Lock()
			s.audioChunks++
			s.audioBytes += len(audio)
			s.mu.Unlock()
		}
	}

	for _, resp := range s.responses {
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
	return s.streamErr
}

func (s *testSpeechServer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	s.mu.Lock()
	s.unaryConfig = req.GetConfig()
	s.mu.Unlock()

	return &speechpb.RecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: s.unaryTranscript}},
		}},
	}, nil
}

func (s *testSpeechServer) streamConfigs() []*speechpb.StreamingRecognitionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*speechpb.StreamingRecognitionConfig(nil), s.configs...)
}

func (s *testSpeechServer) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioChunks
}

func (s *testSpeechServer) byteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioBytes
}

func (s *testSpeechServer) unaryRecognitionConfig() *speechpb.RecognitionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unaryConfig
}

func startTestSpeechServer(t *testing.T, srv speechpb.SpeechServer) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer := grpc.NewServer()
	speechpb.RegisterSpeechServer(grpcServer, srv)

	go func() {
		_ = grpcServer.Serve(lis)
	}()
	t.Cleanup(func() {
		grpcServer.Stop()
		_ = lis.Close()
	})

	return lis.Addr().String()
}

package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recognizeFunc func(ctx context.Context, audio Audio, language string) (string, error)

type fakeService struct {
	name   string
	direct recognizeFunc
	calls  atomic.Int32
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Recognize(ctx context.Context, audio Audio, language string) (string, error) {
	s.calls.Add(1)
	if s.direct == nil {
		return "", ErrNoMatch
	}
	return s.direct(ctx, audio, language)
}

type fakeStreamService struct {
	fakeService
	stream      recognizeFunc
	streamCalls atomic.Int32
}

func (s *fakeStreamService) RecognizeStream(ctx context.Context, audio Audio, language string) (string, error) {
	s.streamCalls.Add(1)
	if s.stream == nil {
		return "", ErrNoMatch
	}
	return s.stream(ctx, audio, language)
}

type fakeIsolatorService struct {
	fakeStreamService
	isolated      recognizeFunc
	isolatedCalls atomic.Int32
}

func (s *fakeIsolatorService) RecognizeIsolated(ctx context.Context, audio Audio, language string) (string, error) {
	s.isolatedCalls.Add(1)
	if s.isolated == nil {
		return "", ErrNoMatch
	}
	return s.isolated(ctx, audio, language)
}

type fakeResettableService struct {
	fakeService
	resetErr error
	resets   atomic.Int32
}

func (s *fakeResettableService) Reset(ctx context.Context) error {
	s.resets.Add(1)
	return s.resetErr
}

func staticText(text string) recognizeFunc {
	return func(context.Context, Audio, string) (string, error) { return text, nil }
}

func staticErr(err error) recognizeFunc {
	return func(context.Context, Audio, string) (string, error) { return "", err }
}

func testAudio() Audio {
	return Audio{PCM: make([]int16, 16000), SampleRate: 16000}
}

func newTestOrchestrator(t *testing.T, services ...Service) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(services, nil, Config{}, logger, nil)
}

func TestOrchestratorRejectsEmptyChain(t *testing.T) {
	orch := newTestOrchestrator(t)
	_, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.EqualError(t, err, "no recognition services configured")
}

func TestOrchestratorFallsThroughToLaterService(t *testing.T) {
	a := &fakeService{name: "a", direct: staticErr(errors.New("network down"))}
	b := &fakeService{name: "b"} // ErrNoMatch
	c := &fakeService{name: "c", direct: staticText("hello there")}

	orch := newTestOrchestrator(t, a, b, c)
	result, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.NoError(t, err)
	require.Equal(t, "hello there", result.Text)
	require.Equal(t, "c", result.Service)
	require.Equal(t, StrategyDirect, result.Strategy)
	require.Equal(t, 2, result.WordCount)
	require.Equal(t, int32(1), a.calls.Load())
	require.Equal(t, int32(1), b.calls.Load())
	require.Equal(t, int32(1), c.calls.Load())
}

func TestOrchestratorStopsAtFirstUsableTranscript(t *testing.T) {
	a := &fakeService{name: "a", direct: staticText("all good here.")}
	b := &fakeService{name: "b", direct: staticText("should never run")}

	orch := newTestOrchestrator(t, a, b)
	result, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.NoError(t, err)
	require.Equal(t, "a", result.Service)
	require.Equal(t, int32(0), b.calls.Load(), "later services must not run once a usable transcript exists")
}

func TestOrchestratorTriesContinuousAfterEmptyDirect(t *testing.T) {
	svc := &fakeStreamService{
		fakeService: fakeService{name: "google"},
		stream:      staticText("streamed sentence."),
	}

	orch := newTestOrchestrator(t, svc)
	result, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.NoError(t, err)
	require.Equal(t, "streamed sentence.", result.Text)
	require.Equal(t, StrategyContinuous, result.Strategy)
	require.Equal(t, int32(1), svc.calls.Load())
	require.Equal(t, int32(1), svc.streamCalls.Load())
}

func TestOrchestratorFallsBackToIsolated(t *testing.T) {
	svc := &fakeIsolatorService{
		fakeStreamService: fakeStreamService{
			fakeService: fakeService{name: "google"},
			stream:      staticErr(errors.New("stream reset")),
		},
		isolated: staticText("isolated transcript."),
	}

	orch := newTestOrchestrator(t, svc)
	result, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.NoError(t, err)
	require.Equal(t, StrategyIsolated, result.Strategy)
	require.Equal(t, int32(1), svc.calls.Load())
	require.Equal(t, int32(1), svc.streamCalls.Load())
	require.Equal(t, int32(1), svc.isolatedCalls.Load())
}

func TestOrchestratorReturnsNoMatchWhenChainStaysSilent(t *testing.T) {
	a := &fakeService{name: "a"} // ErrNoMatch
	b := &fakeService{name: "b", direct: staticText("   ")}

	orch := newTestOrchestrator(t, a, b)
	_, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestOrchestratorJoinsErrorsWhenEveryAttemptFails(t *testing.T) {
	errA := errors.New("quota exceeded")
	errB := errors.New("connection refused")
	a := &fakeService{name: "a", direct: staticErr(errA)}
	b := &fakeService{name: "b", direct: staticErr(errB)}

	orch := newTestOrchestrator(t, a, b)
	_, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoMatch)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
	require.Contains(t, err.Error(), "recognition chain exhausted")
	require.Contains(t, err.Error(), "a direct")
	require.Contains(t, err.Error(), "b direct")
}

func TestOrchestratorSkipsUnavailableService(t *testing.T) {
	a := &fakeService{name: "a", direct: staticErr(ErrUnavailable)}
	b := &fakeService{name: "b", direct: staticText("hello from b.")}

	orch := newTestOrchestrator(t, a, b)
	result, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.NoError(t, err)
	require.Equal(t, "b", result.Service)
	require.Equal(t, int32(1), a.calls.Load())
}

func TestOrchestratorReportsWhenNoServiceIsAvailable(t *testing.T) {
	a := &fakeService{name: "a", direct: staticErr(ErrUnavailable)}
	b := &fakeService{name: "b", direct: staticErr(fmt.Errorf("missing credentials: %w", ErrUnavailable))}

	orch := newTestOrchestrator(t, a, b)
	_, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "no recognition service available")
}

func TestOrchestratorKeepsGarbageCandidatesWithoutStopping(t *testing.T) {
	a := &fakeService{name: "a", direct: staticText("...")}
	b := &fakeService{name: "b", direct: staticText("Real sentence.")}

	orch := newTestOrchestrator(t, a, b)
	result, err := orch.Recognize(context.Background(), testAudio(), "en-US")
	require.NoError(t, err)
	require.Equal(t, "Real sentence.", result.Text)
	require.Equal(t, "b", result.Service)
	require.Equal(t, int32(1), a.calls.Load())
	require.Equal(t, int32(1), b.calls.Load())
}

func TestOrchestratorRecyclesPoolOnSchedule(t *testing.T) {
	svc := &fakeResettableService{
		fakeService: fakeService{name: "google", direct: staticText("ok then.")},
	}
	pool := NewServiceHandlePool([]Service{svc}, 2, time.Hour)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := NewOrchestrator([]Service{svc}, pool, Config{}, logger, nil)

	for i := 0; i < 3; i++ {
		_, err := orch.Recognize(context.Background(), testAudio(), "en-US")
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), svc.resets.Load())
	calls, _ := pool.Stats()
	require.Equal(t, 1, calls, "third call lands on a freshly reset pool")
}

func TestOrchestratorHonorsCancelledContext(t *testing.T) {
	svc := &fakeService{name: "a", direct: staticText("never used")}
	orch := newTestOrchestrator(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Recognize(ctx, testAudio(), "en-US")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(0), svc.calls.Load())
}

package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/encoding/protojson"
)

type streamConfig struct {
	recognition *speechpb.RecognitionConfig
	interim     bool
	debugSink   io.Writer
}

// stream wraps one StreamingRecognize RPC lifecycle. The underlying client
// is owned by the Service and survives the stream.
type stream struct {
	rpc speechpb.Speech_StreamingRecognizeClient

	recvDone chan struct{}

	mu                   sync.Mutex
	segments             []string // committed transcript segments (final and boundary-committed interim)
	lastInterim          string
	lastInterimAge       int
	lastInterimStability float32
	lastInterimEnd       time.Duration
	recvErr              error
	closedSend           bool
	debugSink            io.Writer
}

// openStream starts the RPC, sends the recognition config, and begins the
// receive loop.
func openStream(ctx context.Context, client *speech.Client, cfg streamConfig) (*stream, error) {
	rpc, err := client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open streaming recognizer: %w", err)
	}

	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         cfg.recognition,
				InterimResults: cfg.interim,
			},
		},
	}
	if err := rpc.Send(req); err != nil {
		return nil, fmt.Errorf("send initial streaming config: %w", err)
	}

	s := &stream{
		rpc:       rpc,
		recvDone:  make(chan struct{}),
		debugSink: cfg.debugSink,
	}
	go s.recvLoop()
	return s, nil
}

// recvLoop continuously receives recognition responses until stream close/error.
func (s *stream) recvLoop() {
	defer close(s.recvDone)

	for {
		resp, err := s.rpc.Recv()
		if err == nil {
			s.recordResponse(resp)
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}

		s.mu.Lock()
		s.recvErr = err
		s.mu.Unlock()
		return
	}
}

// recordResponse merges final/interim segments into stream state.
func (s *stream) recordResponse(resp *speechpb.StreamingRecognizeResponse) {
	if sink := s.debugSink; sink != nil {
		b, err := protojson.Marshal(resp)
		if err == nil {
			_, _ = sink.Write(append(b, '\n'))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, result := range resp.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		transcript := cleanSegment(alternatives[0].GetTranscript())
		if transcript == "" {
			continue
		}
		if result.GetIsFinal() {
			s.segments = appendSegment(s.segments, transcript)
			s.lastInterim = ""
			s.lastInterimAge = 0
			s.lastInterimStability = 0
			s.lastInterimEnd = 0
			continue
		}

		end := result.GetResultEndTime().AsDuration()
		if s.lastInterim != "" && isInterimContinuation(s.lastInterim, transcript) {
			s.lastInterimAge++
		} else {
			if shouldCommitInterimBoundary(s.lastInterim, s.lastInterimAge, s.lastInterimStability, end-s.lastInterimEnd) {
				s.segments = appendSegment(s.segments, s.lastInterim)
			}
			s.lastInterimAge = 1
		}
		s.lastInterim = transcript
		s.lastInterimStability = result.GetStability()
		s.lastInterimEnd = end
	}
}

// sendAudio sends one chunk of PCM audio over the active stream.
func (s *stream) sendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.mu.Lock()
	closed := s.closedSend
	recvErr := s.recvErr
	s.mu.Unlock()

	if closed {
		return errors.New("stream already closed for sending")
	}
	if recvErr != nil {
		return fmt.Errorf("stream receive loop failed: %w", recvErr)
	}

	return s.rpc.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
	})
}

// closeAndCollect closes send-side audio and returns merged transcript segments.
func (s *stream) closeAndCollect(ctx context.Context) ([]string, time.Duration, error) {
	closedAt := time.Now()

	s.mu.Lock()
	if !s.closedSend {
		s.closedSend = true
		_ = s.rpc.CloseSend()
	}
	s.mu.Unlock()

	select {
	case <-s.recvDone:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	latency := time.Since(closedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recvErr != nil {
		return nil, latency, s.recvErr
	}
	return collectSegments(s.segments, s.lastInterim), latency, nil
}

// cancel stops sending. The receive loop winds down when the RPC context is
// cancelled by the caller.
func (s *stream) cancel() {
	s.mu.Lock()
	if !s.closedSend {
		s.closedSend = true
		_ = s.rpc.CloseSend()
	}
	s.mu.Unlock()
}

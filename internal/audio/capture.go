package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	defaultQueueFrames = 128
	stopJoinTimeout    = 2 * time.Second
)

// Format describes the PCM shape of one capture session.
type Format struct {
	SampleRate int
	Channels   int
	FrameMS    int
}

// FrameSamples returns the number of samples in one frame.
func (f Format) FrameSamples() int {
	return f.SampleRate * f.FrameMS / 1000 * f.Channels
}

// FrameBytes returns the byte length of one s16le frame.
func (f Format) FrameBytes() int {
	return f.FrameSamples() * 2
}

// Capture streams fixed-size PCM frames from one selected Pulse source.
type Capture struct {
	device Device
	format Format

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []int16
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	rawPCM  []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
	dropped  atomic.Int64
}

// StartCapture creates and starts a mono s16 record stream at the given format.
func StartCapture(ctx context.Context, selected Device, format Format, queueFrames int) (*Capture, error) {
	if format.SampleRate <= 0 || format.FrameMS <= 0 {
		return nil, fmt.Errorf("invalid capture format: rate=%d frame_ms=%d", format.SampleRate, format.FrameMS)
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("capture supports mono only, got %d channels", format.Channels)
	}
	if queueFrames <= 0 {
		queueFrames = defaultQueueFrames
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("dictum"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := &Capture{
		device: selected,
		format: format,
		client: client,
		frames: make(chan []int16, queueFrames),
		stopCh: make(chan struct{}),
	}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(format.FrameBytes())),
		pulse.RecordMediaName("dictum dictation"),
	)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()

	go func() {
		<-ctx.Done()
		_ = capture.Stop()
	}()

	return capture, nil
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Format returns the PCM shape this capture was opened with.
func (c *Capture) Format() Format {
	return c.format
}

// Frames returns the PCM stream as fixed-size sample frames.
func (c *Capture) Frames() <-chan []int16 {
	return c.frames
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Dropped reports how many frames were discarded because the queue was full.
func (c *Capture) Dropped() int64 {
	return c.dropped.Load()
}

// RawPCM returns a snapshot of all captured raw PCM bytes.
func (c *Capture) RawPCM() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.rawPCM))
	copy(out, c.rawPCM)
	return out
}

// Stop halts the stream, flushes residual PCM, and closes Frames exactly once.
// The writer join is bounded; on timeout the device handle is still released
// and the channel is left open for timeout-based consumers to drain.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	joined := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(stopJoinTimeout):
		return fmt.Errorf("pulse writer did not drain within %v", stopJoinTimeout)
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if frame := samplesFromBytes(pending); len(frame) > 0 {
		select {
		case c.frames <- frame:
		default:
		}
	}

	close(c.frames)
	return nil
}

// Close is a convenience alias for Stop.
func (c *Capture) Close() {
	_ = c.Stop()
}

// onPCM receives raw Pulse bytes and emits fixed-size frames to c.frames.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)

	c.rawPCM = append(c.rawPCM, buffer...)
	c.pending = append(c.pending, buffer...)

	frameBytes := c.format.FrameBytes()
	frames := make([][]int16, 0, len(c.pending)/frameBytes)
	for len(c.pending) >= frameBytes {
		frames = append(frames, samplesFromBytes(c.pending[:frameBytes]))
		c.pending = c.pending[frameBytes:]
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))

	for _, frame := range frames {
		if !c.push(frame) {
			return 0, io.EOF
		}
	}

	return len(buffer), nil
}

// push enqueues one frame. When the queue is full the oldest frame is
// discarded and counted so capture never stalls the Pulse callback.
func (c *Capture) push(frame []int16) bool {
	for {
		select {
		case <-c.stopCh:
			return false
		case c.frames <- frame:
			return true
		default:
		}
		select {
		case <-c.frames:
			c.dropped.Add(1)
		default:
		}
	}
}

// samplesFromBytes decodes little-endian s16 PCM. A trailing odd byte is dropped.
func samplesFromBytes(b []byte) []int16 {
	n := len(b) / 2
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

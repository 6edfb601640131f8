package audio

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	defaultProbeTTL  = 60 * time.Second
	probeWindow      = 200 * time.Millisecond
	probeQueueFrames = 16

	levelJitterSpan = 0.10
	levelFloor      = 0.05
	levelCeiling    = 0.95

	// Meter saturates around -12 dBFS RMS so normal speech reads near full.
	meterReferenceRMS = 8192.0
)

// ProbeResult is one device liveness snapshot.
type ProbeResult struct {
	OK    bool
	Level float64
}

// Prober runs short liveness captures against input devices and caches the
// outcome so status polls do not reopen the microphone on every tick.
type Prober struct {
	ttl     time.Duration
	measure func(ctx context.Context, device Device) (ProbeResult, error)
	now     func() time.Time

	mu      sync.Mutex
	device  string
	result  ProbeResult
	err     error
	checked time.Time
}

// NewProber returns a Prober caching results for ttl (60s when ttl <= 0).
func NewProber(ttl time.Duration) *Prober {
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}
	return &Prober{ttl: ttl, measure: measureDevice, now: time.Now}
}

// Probe returns the liveness snapshot for device. Repeat calls within the TTL
// reuse the cached result with a small level jitter so meters stay live
// looking. A different device forces a fresh measurement.
func (p *Prober) Probe(ctx context.Context, device Device) (ProbeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == device.ID && !p.checked.IsZero() && p.now().Sub(p.checked) < p.ttl {
		result := p.result
		if result.OK {
			result.Level = jitterLevel(result.Level)
		}
		return result, p.err
	}

	result, err := p.measure(ctx, device)
	p.device = device.ID
	p.result = result
	p.err = err
	p.checked = p.now()
	return result, err
}

// Invalidate drops the cached snapshot so the next Probe touches the device.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = ""
	p.result = ProbeResult{}
	p.err = nil
	p.checked = time.Time{}
}

// jitterLevel nudges a cached meter level by up to ±0.05, clamped away from
// the meter's dead ends.
func jitterLevel(level float64) float64 {
	level += (rand.Float64() - 0.5) * levelJitterSpan
	return math.Min(levelCeiling, math.Max(levelFloor, level))
}

// measureDevice opens a short capture window and derives an input level from it.
func measureDevice(ctx context.Context, device Device) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeWindow+2*time.Second)
	defer cancel()

	capture, err := StartCapture(ctx, device, Format{SampleRate: 16000, Channels: 1, FrameMS: 20}, probeQueueFrames)
	if err != nil {
		return ProbeResult{}, err
	}

	window := time.NewTimer(probeWindow)
	defer window.Stop()

	var samples []int16
collect:
	for {
		select {
		case frame, ok := <-capture.Frames():
			if !ok {
				break collect
			}
			samples = append(samples, frame...)
		case <-window.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	_ = capture.Stop()

	return ProbeResult{OK: true, Level: levelFromSamples(samples)}, nil
}

// levelFromSamples maps capture RMS onto a 0..1 meter.
func levelFromSamples(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return math.Min(1, rms/meterReferenceRMS)
}

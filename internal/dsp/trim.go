package dsp

import "github.com/rbright/dictum/internal/config"

const (
	longSilenceRunMS = 500
	silenceKeepMS    = 100
)

// silenceThreshold derives the segment silence cutoff from whole-buffer RMS.
func silenceThreshold(rms float64, cfg config.DSPConfig) float64 {
	t := rms * cfg.SilenceRMSFraction
	if t < cfg.SilenceFloor {
		t = cfg.SilenceFloor
	}
	if t > cfg.SilenceCeiling {
		t = cfg.SilenceCeiling
	}
	return t
}

// trimSilence removes leading and trailing silence in segment windows.
//
// The bool result reports an all-silent buffer, which is returned untrimmed
// so the caller can rescue it with an emergency gain instead of discarding it.
// When the speech span is shorter than the minimum usable duration the edges
// are kept and long interior silence runs are compressed instead, so the trim
// never deletes a buffer with genuine speech down below that minimum.
func trimSilence(samples []int16, rate int, cfg config.DSPConfig, rms float64) ([]int16, bool) {
	seg := rate * cfg.SegmentMS / 1000
	if seg <= 0 || len(samples) < seg {
		return samples, false
	}

	threshold := silenceThreshold(rms, cfg)

	firstSeg, lastSeg := -1, -1
	for idx, start := 0, 0; start < len(samples); idx, start = idx+1, start+seg {
		end := min(start+seg, len(samples))
		if RMS(samples[start:end]) >= threshold {
			if firstSeg < 0 {
				firstSeg = idx
			}
			lastSeg = idx
		}
	}
	if firstSeg < 0 {
		return samples, true
	}

	margin := rate * cfg.PadMS / 1000
	lo := firstSeg*seg - margin
	if lo < 0 {
		lo = 0
	}
	hi := (lastSeg+1)*seg + margin
	if hi > len(samples) {
		hi = len(samples)
	}

	minSamples := rate * cfg.MinDurationMS / 1000
	if hi-lo < minSamples {
		return compressSilenceRuns(samples, seg, threshold, rate), false
	}
	return samples[lo:hi], false
}

// compressSilenceRuns shortens silence runs longer than 500ms to a 100ms margin.
func compressSilenceRuns(samples []int16, seg int, threshold float64, rate int) []int16 {
	longRun := rate * longSilenceRunMS / 1000
	keep := rate * silenceKeepMS / 1000

	out := make([]int16, 0, len(samples))
	runStart := -1

	flushRun := func(end int) {
		if runStart < 0 {
			return
		}
		if end-runStart > longRun {
			end = runStart + keep
		}
		out = append(out, samples[runStart:end]...)
		runStart = -1
	}

	for start := 0; start < len(samples); start += seg {
		end := min(start+seg, len(samples))
		if RMS(samples[start:end]) >= threshold {
			flushRun(start)
			out = append(out, samples[start:end]...)
		} else if runStart < 0 {
			runStart = start
		}
	}
	flushRun(len(samples))
	return out
}

// speechPercent measures the share of segments above the silence threshold.
func speechPercent(samples []int16, rate int, cfg config.DSPConfig, rms float64) float64 {
	seg := rate * cfg.SegmentMS / 1000
	if seg <= 0 || len(samples) == 0 {
		return 0
	}

	threshold := silenceThreshold(rms, cfg)
	total, speech := 0, 0
	for start := 0; start < len(samples); start += seg {
		end := min(start+seg, len(samples))
		total++
		if RMS(samples[start:end]) >= threshold {
			speech++
		}
	}
	return 100 * float64(speech) / float64(total)
}

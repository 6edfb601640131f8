package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// KnownServices lists the recognition service names accepted in asr.services.
var KnownServices = map[string]bool{
	"aws":    true,
	"google": true,
	"local":  true,
	"openai": true,
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}
	if cfg.Audio.Channels != 1 {
		return nil, fmt.Errorf("audio.channels must be 1 (mono capture only)")
	}
	if cfg.Audio.FrameMS <= 0 {
		return nil, fmt.Errorf("audio.frame_ms must be > 0")
	}
	if cfg.Audio.QueueFrames <= 0 {
		return nil, fmt.Errorf("audio.queue_frames must be > 0")
	}
	if cfg.Audio.ProbeTTLSeconds < 0 {
		return nil, fmt.Errorf("audio.probe_ttl_seconds must be >= 0")
	}

	if cfg.DSP.MinDurationMS <= 0 {
		return nil, fmt.Errorf("dsp.min_duration_ms must be > 0")
	}
	if cfg.DSP.SegmentMS <= 0 {
		return nil, fmt.Errorf("dsp.segment_ms must be > 0")
	}
	if cfg.DSP.SilenceRMSFraction <= 0 || cfg.DSP.SilenceRMSFraction > 1 {
		return nil, fmt.Errorf("dsp.silence_rms_fraction must be in (0, 1]")
	}
	if cfg.DSP.SilenceFloor <= 0 {
		return nil, fmt.Errorf("dsp.silence_floor must be > 0")
	}
	if cfg.DSP.SilenceCeiling < cfg.DSP.SilenceFloor {
		return nil, fmt.Errorf("dsp.silence_ceiling must be >= dsp.silence_floor")
	}
	if cfg.DSP.TargetPeakFraction <= 0 || cfg.DSP.TargetPeakFraction > 1 {
		return nil, fmt.Errorf("dsp.target_peak_fraction must be in (0, 1]")
	}
	if cfg.DSP.MaxGain < 1 {
		return nil, fmt.Errorf("dsp.max_gain must be >= 1")
	}
	if cfg.DSP.FaintMaxGain < cfg.DSP.MaxGain {
		return nil, fmt.Errorf("dsp.faint_max_gain must be >= dsp.max_gain")
	}
	if cfg.DSP.EmergencyGain < 1 {
		return nil, fmt.Errorf("dsp.emergency_gain must be >= 1")
	}
	if cfg.DSP.BandLowHz <= 0 {
		return nil, fmt.Errorf("dsp.band_low_hz must be > 0")
	}
	if cfg.DSP.BandHighHz <= cfg.DSP.BandLowHz {
		return nil, fmt.Errorf("dsp.band_high_hz must be > dsp.band_low_hz")
	}
	if cfg.DSP.BandHighHz >= float64(cfg.Audio.SampleRate)/2 {
		return nil, fmt.Errorf("dsp.band_high_hz must be below half the sample rate")
	}
	if cfg.DSP.PadMS < 0 {
		return nil, fmt.Errorf("dsp.pad_ms must be >= 0")
	}

	if strings.TrimSpace(cfg.ASR.Language) == "" {
		return nil, fmt.Errorf("asr.language must not be empty")
	}
	if len(cfg.ASR.Services) == 0 {
		return nil, fmt.Errorf("asr.services must name at least one service")
	}
	seenServices := make(map[string]bool, len(cfg.ASR.Services))
	for _, name := range cfg.ASR.Services {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if !KnownServices[normalized] {
			return nil, fmt.Errorf("asr.services: unknown service %q (known: aws, google, local, openai)", name)
		}
		if seenServices[normalized] {
			return nil, fmt.Errorf("asr.services: service %q listed more than once", normalized)
		}
		seenServices[normalized] = true
	}
	if cfg.ASR.DirectTimeoutMS <= 0 {
		return nil, fmt.Errorf("asr.direct_timeout_ms must be > 0")
	}
	if cfg.ASR.ContinuousTimeoutMS <= 0 {
		return nil, fmt.Errorf("asr.continuous_timeout_ms must be > 0")
	}
	if cfg.ASR.Reset.MaxRecognitions <= 0 {
		return nil, fmt.Errorf("asr.reset.max_recognitions must be > 0")
	}
	if cfg.ASR.Reset.MaxAgeMinutes <= 0 {
		return nil, fmt.Errorf("asr.reset.max_age_minutes must be > 0")
	}
	if seenServices["local"] && len(cfg.Providers.Local.Cmd.Argv) == 0 {
		return nil, fmt.Errorf("providers.local.cmd must not be empty when asr.services includes \"local\"")
	}

	if cfg.Translate.Enable && strings.TrimSpace(cfg.Translate.Target) == "" {
		return nil, fmt.Errorf("translate.target must not be empty when translate.enable=true")
	}
	if cfg.Translate.Enable && strings.TrimSpace(cfg.Translate.Model) == "" {
		return nil, fmt.Errorf("translate.model must not be empty when translate.enable=true")
	}

	if !hasBinding(cfg.Hotkeys.PushToTalk) && !hasBinding(cfg.Hotkeys.Toggle) && len(cfg.Hotkeys.Languages) == 0 {
		return nil, fmt.Errorf("hotkeys must define push_to_talk, toggle, or at least one language binding")
	}
	for i, binding := range cfg.Hotkeys.Languages {
		if !hasBinding(binding.Binding) {
			return nil, fmt.Errorf("hotkeys.languages[%d].key must not be empty", i)
		}
		if strings.TrimSpace(binding.Language) == "" {
			return nil, fmt.Errorf("hotkeys.languages[%d].language must not be empty", i)
		}
	}
	if cfg.Hotkeys.DebounceMS < 0 {
		return nil, fmt.Errorf("hotkeys.debounce_ms must be >= 0")
	}
	if cfg.Hotkeys.Watchdog.IntervalSeconds <= 0 {
		return nil, fmt.Errorf("hotkeys.watchdog.interval_seconds must be > 0")
	}
	if cfg.Hotkeys.Watchdog.MaxHoldSeconds <= cfg.Hotkeys.Watchdog.IntervalSeconds {
		return nil, fmt.Errorf("hotkeys.watchdog.max_hold_seconds must exceed interval_seconds")
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Output.Mode))
	if mode != "clipboard" && mode != "type" {
		return nil, fmt.Errorf("output.mode must be one of: clipboard, type")
	}
	if mode == "clipboard" && len(cfg.Output.ClipboardCmd.Argv) == 0 {
		return nil, fmt.Errorf("output.clipboard_cmd must not be empty when output.mode=clipboard")
	}
	if cfg.Output.Paste.Enable && len(cfg.Output.Paste.Cmd.Argv) == 0 {
		return nil, fmt.Errorf("output.paste.cmd must not be empty when output.paste.enable=true")
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.AppName) == "" {
		return nil, fmt.Errorf("indicator.app_name must not be empty when indicator.enable=true")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, fmt.Errorf("vocab.max_phrases must be > 0")
	}

	if listen := strings.TrimSpace(cfg.Diag.Listen); listen != "" && !strings.Contains(listen, ":") {
		return nil, fmt.Errorf("diag.listen must be a host:port address")
	}

	warnings = append(warnings, credentialWarnings(cfg, seenServices)...)

	_, vocabWarnings, err := BuildSpeechPhrases(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

// hasBinding reports whether a binding names a primary key.
func hasBinding(b Binding) bool {
	return strings.TrimSpace(b.Key) != ""
}

// credentialWarnings flags configured services whose credentials are absent from the environment.
func credentialWarnings(cfg Config, services map[string]bool) []Warning {
	warnings := make([]Warning, 0)

	needsOpenAI := services["openai"] || cfg.Translate.Enable
	if needsOpenAI && strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) == "" {
		warnings = append(warnings, Warning{Message: "OPENAI_API_KEY is not set; openai recognition and translation will be skipped"})
	}
	if services["google"] && strings.TrimSpace(cfg.Providers.Google.Endpoint) == "" &&
		strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")) == "" {
		warnings = append(warnings, Warning{Message: "GOOGLE_APPLICATION_CREDENTIALS is not set; google recognition relies on ambient application default credentials"})
	}
	if services["aws"] && strings.TrimSpace(cfg.Providers.AWS.Region) == "" &&
		strings.TrimSpace(os.Getenv("AWS_REGION")) == "" && strings.TrimSpace(os.Getenv("AWS_DEFAULT_REGION")) == "" {
		warnings = append(warnings, Warning{Message: "providers.aws.region is not set and no AWS region is in the environment; aws recognition will be skipped"})
	}

	return warnings
}

// BuildSpeechPhrases merges enabled vocab sets into deterministic ASR phrase payloads.
func BuildSpeechPhrases(cfg Config) ([]SpeechPhrase, []Warning, error) {
	enabledSets := cfg.Vocab.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range enabledSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("vocab.global references unknown set %q", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if existing, exists := selected[phrase]; exists {
				if set.Boost > existing.boost {
					warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
					selected[phrase] = candidate{boost: set.Boost, from: name}
				}
				continue
			}
			selected[phrase] = candidate{boost: set.Boost, from: name}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, fmt.Errorf("vocabulary phrase count %d exceeds vocab.max_phrases=%d", len(selected), cfg.Vocab.MaxPhrases)
	}

	phrases := make([]SpeechPhrase, 0, len(selected))
	for phrase, c := range selected {
		phrases = append(phrases, SpeechPhrase{Phrase: phrase, Boost: float32(c.boost)})
	}

	sort.Slice(phrases, func(i, j int) bool {
		return phrases[i].Phrase < phrases[j].Phrase
	})

	return phrases, warnings, nil
}

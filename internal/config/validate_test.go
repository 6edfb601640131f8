package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSpeechPhrasesSortedAndHighestBoostWins(t *testing.T) {
	cfg := Default()
	cfg.Vocab.GlobalSets = []string{"core", "team"}
	cfg.Vocab.Sets["core"] = VocabSet{Name: "core", Boost: 10, Phrases: []string{"beta", "alpha"}}
	cfg.Vocab.Sets["team"] = VocabSet{Name: "team", Boost: 20, Phrases: []string{"alpha", "gamma"}}

	phrases, warnings, err := BuildSpeechPhrases(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, []SpeechPhrase{
		{Phrase: "alpha", Boost: 20},
		{Phrase: "beta", Boost: 10},
		{Phrase: "gamma", Boost: 20},
	}, phrases)
}

func TestValidateRejectsInvalidCoreFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "zero sample rate", mutate: func(c *Config) { c.Audio.SampleRate = 0 }, wantErr: "audio.sample_rate"},
		{name: "stereo capture", mutate: func(c *Config) { c.Audio.Channels = 2 }, wantErr: "audio.channels"},
		{name: "zero frame size", mutate: func(c *Config) { c.Audio.FrameMS = 0 }, wantErr: "audio.frame_ms"},
		{name: "zero queue depth", mutate: func(c *Config) { c.Audio.QueueFrames = 0 }, wantErr: "audio.queue_frames"},
		{name: "zero min duration", mutate: func(c *Config) { c.DSP.MinDurationMS = 0 }, wantErr: "dsp.min_duration_ms"},
		{name: "silence ceiling below floor", mutate: func(c *Config) { c.DSP.SilenceCeiling = 50 }, wantErr: "dsp.silence_ceiling"},
		{name: "peak fraction above one", mutate: func(c *Config) { c.DSP.TargetPeakFraction = 1.5 }, wantErr: "dsp.target_peak_fraction"},
		{name: "band above nyquist", mutate: func(c *Config) { c.DSP.BandHighHz = 9000 }, wantErr: "dsp.band_high_hz"},
		{name: "inverted band edges", mutate: func(c *Config) { c.DSP.BandLowHz = 4000 }, wantErr: "dsp.band_high_hz"},
		{name: "empty language", mutate: func(c *Config) { c.ASR.Language = "" }, wantErr: "asr.language"},
		{name: "no services", mutate: func(c *Config) { c.ASR.Services = nil }, wantErr: "asr.services"},
		{name: "unknown service", mutate: func(c *Config) { c.ASR.Services = []string{"siri"} }, wantErr: "unknown service"},
		{name: "duplicate service", mutate: func(c *Config) { c.ASR.Services = []string{"google", "google"} }, wantErr: "more than once"},
		{name: "zero direct timeout", mutate: func(c *Config) { c.ASR.DirectTimeoutMS = 0 }, wantErr: "asr.direct_timeout_ms"},
		{name: "zero max recognitions", mutate: func(c *Config) { c.ASR.Reset.MaxRecognitions = 0 }, wantErr: "asr.reset.max_recognitions"},
		{name: "local service without command", mutate: func(c *Config) { c.ASR.Services = []string{"local"} }, wantErr: "providers.local.cmd"},
		{name: "translation without target", mutate: func(c *Config) {
			c.Translate.Enable = true
			c.Translate.Target = ""
		}, wantErr: "translate.target"},
		{name: "no activation bindings", mutate: func(c *Config) {
			c.Hotkeys.PushToTalk = Binding{}
			c.Hotkeys.Toggle = Binding{}
			c.Hotkeys.Languages = nil
		}, wantErr: "hotkeys must define"},
		{name: "language binding without key", mutate: func(c *Config) {
			c.Hotkeys.Languages = []LanguageBinding{{Language: "pt-BR"}}
		}, wantErr: "hotkeys.languages[0].key"},
		{name: "language binding without language", mutate: func(c *Config) {
			c.Hotkeys.Languages = []LanguageBinding{{Binding: Binding{Key: "f11"}}}
		}, wantErr: "hotkeys.languages[0].language"},
		{name: "negative debounce", mutate: func(c *Config) { c.Hotkeys.DebounceMS = -1 }, wantErr: "hotkeys.debounce_ms"},
		{name: "watchdog hold below interval", mutate: func(c *Config) { c.Hotkeys.Watchdog.MaxHoldSeconds = 3 }, wantErr: "max_hold_seconds"},
		{name: "unknown output mode", mutate: func(c *Config) { c.Output.Mode = "osd" }, wantErr: "output.mode"},
		{name: "clipboard mode without command", mutate: func(c *Config) { c.Output.ClipboardCmd = CommandConfig{} }, wantErr: "output.clipboard_cmd"},
		{name: "paste enabled without command", mutate: func(c *Config) { c.Output.Paste.Enable = true }, wantErr: "output.paste.cmd"},
		{name: "negative error timeout", mutate: func(c *Config) { c.Indicator.ErrorTimeoutMS = -1 }, wantErr: "error_timeout"},
		{name: "invalid max phrases", mutate: func(c *Config) { c.Vocab.MaxPhrases = 0 }, wantErr: "vocab.max_phrases"},
		{name: "diag listen without port", mutate: func(c *Config) { c.Diag.Listen = "localhost" }, wantErr: "diag.listen"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateAcceptsTypeModeWithoutClipboardCommand(t *testing.T) {
	cfg := Default()
	cfg.Output.Mode = "type"
	cfg.Output.ClipboardCmd = CommandConfig{}

	_, err := Validate(cfg)
	require.NoError(t, err)
}

func TestValidateWarnsOnMissingOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := Default()
	cfg.ASR.Services = []string{"openai"}

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "OPENAI_API_KEY")
}

func TestValidateNoCredentialWarningWhenKeyPresent(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := Default()
	cfg.ASR.Services = []string{"openai"}

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestValidateWarnsOnMissingAWSRegion(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/tmp/creds.json")

	cfg := Default()
	cfg.ASR.Services = []string{"google", "aws"}

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "aws")
}

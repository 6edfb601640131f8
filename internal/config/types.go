// Package config resolves, parses, validates, and defaults dictum configuration.
package config

import "gopkg.in/yaml.v3"

// Config is the fully materialized runtime configuration used by dictum.
type Config struct {
	Audio      AudioConfig      `yaml:"audio"`
	DSP        DSPConfig        `yaml:"dsp"`
	ASR        ASRConfig        `yaml:"asr"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Translate  TranslateConfig  `yaml:"translate"`
	Hotkeys    HotkeysConfig    `yaml:"hotkeys"`
	Output     OutputConfig     `yaml:"output"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Indicator  IndicatorConfig  `yaml:"indicator"`
	Vocab      VocabConfig      `yaml:"vocab"`
	Diag       DiagConfig       `yaml:"diag"`
	Debug      DebugConfig      `yaml:"debug"`
}

// AudioConfig controls input-source selection and the capture frame queue.
type AudioConfig struct {
	Input           string `yaml:"input"`
	Fallback        string `yaml:"fallback"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameMS         int    `yaml:"frame_ms"`
	QueueFrames     int    `yaml:"queue_frames"`
	ProbeTTLSeconds int    `yaml:"probe_ttl_seconds"`
}

// DSPConfig controls signal conditioning between capture and recognition.
type DSPConfig struct {
	MinDurationMS      int     `yaml:"min_duration_ms"`
	SegmentMS          int     `yaml:"segment_ms"`
	SilenceRMSFraction float64 `yaml:"silence_rms_fraction"`
	SilenceFloor       float64 `yaml:"silence_floor"`
	SilenceCeiling     float64 `yaml:"silence_ceiling"`
	TargetPeakFraction float64 `yaml:"target_peak_fraction"`
	MaxGain            float64 `yaml:"max_gain"`
	FaintMaxGain       float64 `yaml:"faint_max_gain"`
	EmergencyGain      float64 `yaml:"emergency_gain"`
	BandLowHz          float64 `yaml:"band_low_hz"`
	BandHighHz         float64 `yaml:"band_high_hz"`
	PadMS              int     `yaml:"pad_ms"`
}

// ASRConfig controls recognition service order, language, and strategy timeouts.
type ASRConfig struct {
	Language            string      `yaml:"language"`
	Services            []string    `yaml:"services"`
	DirectTimeoutMS     int         `yaml:"direct_timeout_ms"`
	ContinuousTimeoutMS int         `yaml:"continuous_timeout_ms"`
	Reset               ResetConfig `yaml:"reset"`
}

// ResetConfig bounds service handle reuse before a forced recycle.
type ResetConfig struct {
	MaxRecognitions int `yaml:"max_recognitions"`
	MaxAgeMinutes   int `yaml:"max_age_minutes"`
}

// ProvidersConfig holds per-service recognition settings.
type ProvidersConfig struct {
	Google GoogleConfig `yaml:"google"`
	OpenAI OpenAIConfig `yaml:"openai"`
	AWS    AWSConfig    `yaml:"aws"`
	Local  LocalConfig  `yaml:"local"`
}

// GoogleConfig controls the Cloud Speech recognition service.
type GoogleConfig struct {
	Endpoint             string `yaml:"endpoint"`
	Model                string `yaml:"model"`
	AutomaticPunctuation bool   `yaml:"automatic_punctuation"`
}

// OpenAIConfig controls the Whisper transcription service. BaseURL points
// the client at a self-hosted gateway instead of the public API.
type OpenAIConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AWSConfig controls the Transcribe streaming service.
type AWSConfig struct {
	Region   string `yaml:"region"`
	Language string `yaml:"language"`
}

// LocalConfig controls the external command transcription service.
type LocalConfig struct {
	Cmd CommandConfig `yaml:"cmd"`
}

// TranslateConfig controls post-recognition translation of the transcript.
type TranslateConfig struct {
	Enable bool   `yaml:"enable"`
	Target string `yaml:"target"`
	Model  string `yaml:"model"`
}

// HotkeysConfig controls activation bindings and key watchdog behavior.
type HotkeysConfig struct {
	PushToTalk Binding           `yaml:"push_to_talk"`
	Toggle     Binding           `yaml:"toggle"`
	Languages  []LanguageBinding `yaml:"languages"`
	DebounceMS int               `yaml:"debounce_ms"`
	Watchdog   WatchdogConfig    `yaml:"watchdog"`
}

// Binding names one primary key plus the modifiers that must be held with it.
type Binding struct {
	Key       string   `yaml:"key"`
	Modifiers []string `yaml:"modifiers"`
}

// LanguageBinding is a push-to-talk binding pinned to a recognition language.
type LanguageBinding struct {
	Binding  `yaml:",inline"`
	Language string `yaml:"language"`
}

// WatchdogConfig bounds how long a tracked key may stay held.
type WatchdogConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	MaxHoldSeconds  int `yaml:"max_hold_seconds"`
}

// OutputConfig controls how the committed transcript reaches the focused app.
type OutputConfig struct {
	Mode         string        `yaml:"mode"`
	ClipboardCmd CommandConfig `yaml:"clipboard_cmd"`
	Paste        PasteConfig   `yaml:"paste"`
}

// PasteConfig controls post-clipboard paste dispatch.
type PasteConfig struct {
	Enable bool          `yaml:"enable"`
	Cmd    CommandConfig `yaml:"cmd"`
}

// TranscriptConfig controls transcript normalization before commit.
type TranscriptConfig struct {
	TrailingSpace       bool `yaml:"trailing_space"`
	CapitalizeSentences bool `yaml:"capitalize_sentences"`
}

// IndicatorConfig controls desktop notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool   `yaml:"enable"`
	AppName        string `yaml:"app_name"`
	Sound          bool   `yaml:"sound"`
	ErrorTimeoutMS int    `yaml:"error_timeout_ms"`
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// UnmarshalYAML decodes a command scalar and tokenizes it eagerly.
func (c *CommandConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	argv, err := parseArgv(raw)
	if err != nil {
		return err
	}
	c.Raw = raw
	c.Argv = argv
	return nil
}

// VocabConfig controls enabled speech phrase sets and dedupe limits.
type VocabConfig struct {
	GlobalSets []string            `yaml:"global"`
	Sets       map[string]VocabSet `yaml:"sets"`
	MaxPhrases int                 `yaml:"max_phrases"`
}

// VocabSet is one named phrase group with a shared boost value.
type VocabSet struct {
	Name    string   `yaml:"-"`
	Boost   float64  `yaml:"boost"`
	Phrases []string `yaml:"phrases"`
}

// DiagConfig controls the optional diagnostics HTTP listener.
type DiagConfig struct {
	Listen string `yaml:"listen"`
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	AudioDump bool `yaml:"audio_dump"`
	ASRDump   bool `yaml:"asr_dump"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Message string
}

// SpeechPhrase is the normalized phrase payload sent to ASR adapters.
type SpeechPhrase struct {
	Phrase string
	Boost  float32
}

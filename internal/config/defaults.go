package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"

	return Config{
		Audio: AudioConfig{
			Input:           "default",
			Fallback:        "default",
			SampleRate:      16000,
			Channels:        1,
			FrameMS:         20,
			QueueFrames:     128,
			ProbeTTLSeconds: 60,
		},
		DSP: DSPConfig{
			MinDurationMS:      300,
			SegmentMS:          5,
			SilenceRMSFraction: 0.1,
			SilenceFloor:       100,
			SilenceCeiling:     1000,
			TargetPeakFraction: 0.8,
			MaxGain:            10,
			FaintMaxGain:       20,
			EmergencyGain:      20,
			BandLowHz:          300,
			BandHighHz:         3400,
			PadMS:              50,
		},
		ASR: ASRConfig{
			Language:            "en-US",
			Services:            []string{"google"},
			DirectTimeoutMS:     5000,
			ContinuousTimeoutMS: 10000,
			Reset: ResetConfig{
				MaxRecognitions: 50,
				MaxAgeMinutes:   30,
			},
		},
		Providers: ProvidersConfig{
			Google: GoogleConfig{AutomaticPunctuation: true},
			OpenAI: OpenAIConfig{Model: "whisper-1"},
		},
		Translate: TranslateConfig{
			Target: "en",
			Model:  "gpt-4o-mini",
		},
		Hotkeys: HotkeysConfig{
			PushToTalk: Binding{Key: "f9"},
			DebounceMS: 400,
			Watchdog: WatchdogConfig{
				IntervalSeconds: 5,
				MaxHoldSeconds:  20,
			},
		},
		Output: OutputConfig{
			Mode:         "clipboard",
			ClipboardCmd: CommandConfig{Raw: clipboard, Argv: mustParseArgv(clipboard)},
		},
		Transcript: TranscriptConfig{
			TrailingSpace:       true,
			CapitalizeSentences: true,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			AppName:        "dictum",
			Sound:          true,
			ErrorTimeoutMS: 1600,
		},
		Vocab: VocabConfig{
			GlobalSets: nil,
			Sets:       map[string]VocabSet{},
			MaxPhrases: 1024,
		},
		Debug: DebugConfig{},
	}
}

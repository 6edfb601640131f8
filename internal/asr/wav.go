package asr

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAVFile writes the utterance to path as 16-bit mono PCM WAV, the
// format file-based transcription back-ends expect.
func WriteWAVFile(path string, a Audio) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create wav file %q: %w", path, err)
	}

	data := make([]int, len(a.PCM))
	for i, s := range a.PCM {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(file, a.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: a.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = file.Close()
		return fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close wav file: %w", err)
	}
	return nil
}

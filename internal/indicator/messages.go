package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish    locale = "en"
	localePortuguese locale = "pt"
)

type messages struct {
	recording  string
	processing string
	errorText  string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "pt") {
		return localePortuguese
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localePortuguese:
		return messages{
			recording:  "Gravando…",
			processing: "Transcrevendo…",
			errorText:  "Erro no reconhecimento de voz",
		}
	default:
		return messages{
			recording:  "Recording…",
			processing: "Transcribing…",
			errorText:  "Speech recognition error",
		}
	}
}

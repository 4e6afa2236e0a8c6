package telegram

import (
	"strings"
	"unicode/utf8"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// chunkMessage splits text into chunks of at most maxLen bytes, preferring
// newline boundaries and never splitting a UTF-8 sequence.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

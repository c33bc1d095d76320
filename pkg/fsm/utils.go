package fsm

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/looplab/fsm"
)

// maxMessageRunes stays under Telegram's 4096 character limit.
const maxMessageRunes = 4000

func isNoTransitionError(err error) bool {
	if err == nil {
		return false
	}
	var noTransitionError fsm.NoTransitionError
	return errors.As(err, &noTransitionError)
}

// splitMessage cuts text into chunks of at most limit runes, preferring to
// break on a newline, then on a space.
func splitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := lastIndexRune(runes[:limit], '\n')
		if cut <= 0 {
			cut = lastIndexRune(runes[:limit], ' ')
		}
		if cut <= 0 {
			cut = limit
		}
		chunk := strings.TrimRight(string(runes[:cut]), " \n")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

func stars(score int) string {
	return strings.Repeat("⭐", score)
}

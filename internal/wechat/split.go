package wechat

import (
	"fmt"
	"strings"
)

// segmentLimit is the soft per-message ceiling the platform tolerates;
// the hard limit is maxMessageLength.
const (
	segmentLimit     = 1800
	maxMessageLength = 2000
)

// separators, in priority order, mark where an oversized reply may be
// cut without breaking mid-sentence.
var separators = []string{
	"\n\n",
	"\n",
	"。",
	"！",
	"？",
	"；",
	"，",
	" ",
	".",
	";",
	",",
}

// Split segments content into delivery units of at most segmentLimit
// characters, cutting after the highest-priority separator found when
// scanning backward from the limit, or hard-cutting when none exists.
// When more than one unit results, each is prefixed with an ordering
// marker so the recipient can reconstruct the sequence.
func Split(content string) []string {
	runes := []rune(content)
	if len(runes) <= segmentLimit {
		return []string{content}
	}

	var parts []string
	remaining := runes
	for len(remaining) > 0 {
		if len(remaining) <= segmentLimit {
			parts = append(parts, string(remaining))
			break
		}

		window := string(remaining[:segmentLimit])
		cut := -1
		for _, sep := range separators {
			if pos := strings.LastIndex(window, sep); pos > 0 {
				cut = len([]rune(window[:pos])) + len([]rune(sep))
				break
			}
		}
		if cut == -1 {
			cut = segmentLimit
		}

		parts = append(parts, string(remaining[:cut]))
		remaining = remaining[cut:]
	}

	if len(parts) > 1 {
		for i := range parts {
			parts[i] = fmt.Sprintf("[%d/%d] %s", i+1, len(parts), parts[i])
		}
	}
	return parts
}

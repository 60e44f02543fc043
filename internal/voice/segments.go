package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	segmentFencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	segmentInlineCodeRe = regexp.MustCompile("`[^`]*`")
	segmentMarkdownLink = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	segmentURLRe        = regexp.MustCompile(`https?://\S+`)
)

// sanitizeSpeechText strips markup and symbol noise from model output so
// the synthesized speech sounds conversational.
func sanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = segmentFencedCodeRe.ReplaceAllString(raw, " ")
	raw = segmentInlineCodeRe.ReplaceAllString(raw, " ")
	raw = segmentMarkdownLink.ReplaceAllString(raw, "$1")
	raw = segmentURLRe.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"#", " ",
		"~", " ",
		"|", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Drops emoji and symbol glyphs that sound unnatural when spoken.
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// sentenceSegmenter accumulates streamed text deltas and emits complete
// sentences as soon as they close, so synthesis can start before the full
// reply has arrived. Very short sentences ride along with the next one to
// avoid choppy playback.
type sentenceSegmenter struct {
	buffer string
}

const segmentMinChars = 12

func (s *sentenceSegmenter) Push(delta string) []string {
	if delta == "" {
		return nil
	}
	s.buffer += delta
	return s.drain(false)
}

func (s *sentenceSegmenter) Finalize() []string {
	return s.drain(true)
}

func (s *sentenceSegmenter) drain(force bool) []string {
	var out []string
	for {
		cut := -1
		from := 0
		for {
			b := sentenceBoundary(s.buffer[from:])
			if b < 0 {
				break
			}
			end := from + b
			// Short closers like "Oh." ride along with the next sentence.
			if len(strings.TrimSpace(s.buffer[:end])) >= segmentMinChars {
				cut = end
				break
			}
			from = end
		}
		if cut < 0 {
			break
		}
		candidate := strings.TrimSpace(s.buffer[:cut])
		s.buffer = s.buffer[cut:]
		if candidate != "" {
			out = append(out, candidate)
		}
	}
	if force {
		if tail := strings.TrimSpace(s.buffer); tail != "" {
			out = append(out, tail)
		}
		s.buffer = ""
	}
	return out
}

// sentenceBoundary returns the index just past the first sentence close,
// or -1 when no complete sentence is buffered yet.
func sentenceBoundary(input string) int {
	for i := 0; i < len(input); i++ {
		switch input[i] {
		case '.', '!', '?':
			// Swallow runs like "?!" or "...".
			j := i + 1
			for j < len(input) && (input[j] == '.' || input[j] == '!' || input[j] == '?' || input[j] == '"' || input[j] == '\'') {
				j++
			}
			// A period needs following whitespace or end of buffer so
			// decimals like "3.5" keep flowing.
			if j < len(input) && !isSpaceByte(input[j]) {
				i = j - 1
				continue
			}
			return j
		case '\n':
			return i + 1
		}
	}
	return -1
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

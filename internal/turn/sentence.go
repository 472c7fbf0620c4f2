package turn

import "strings"

// Chunker splits a pending text buffer into segments; all but the last
// element are treated as complete sentences ready for TTS dispatch. A
// custom Chunker may replace DefaultChunker; it is called on the full
// pending buffer each time.
type Chunker func(pending string) []string

// endingChars are the sentence-terminating runes (§4.4: "one or more of .!?
// followed by whitespace or end-of-string; consecutive sentence-ending
// characters belong to the same sentence").
const endingChars = ".!?"

// DefaultChunker implements the spec's default sentence boundary rule. A
// completed sentence ends at the first run of one-or-more of `.!?` followed
// by whitespace or end of string. When pending ends exactly on a boundary
// the last returned element is "" (the since-consumed remainder) — this is
// intentional: SplitComplete treats the final element as the still-pending
// tail, so a trailing "" correctly signals "nothing left pending" rather
// than being misread as an unfinished sentence. FilterEmpty removes empty
// segments from the *complete* list right before dispatch (§9 design note).
func DefaultChunker(pending string) []string {
	var segments []string
	start := 0
	runes := []rune(pending)
	i := 0
	for i < len(runes) {
		if strings.ContainsRune(endingChars, runes[i]) {
			end := i
			for end < len(runes) && strings.ContainsRune(endingChars, runes[end]) {
				end++
			}
			if end >= len(runes) || isWhitespace(runes[end]) {
				// Fold the run of trailing whitespace into this segment so
				// that joining every returned segment reconstructs pending
				// exactly (the round-trip property).
				for end < len(runes) && isWhitespace(runes[end]) {
					end++
				}
				segments = append(segments, string(runes[start:end]))
				start = end
				i = start
				continue
			}
			i = end
			continue
		}
		i++
	}
	segments = append(segments, string(runes[start:]))
	return segments
}

func isWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// FilterEmpty drops empty strings from a sentence list, used on the
// "complete" half of a SplitComplete result right before TTS dispatch so a
// boundary-aligned trailing "" never turns into an empty TTS call.
func FilterEmpty(sentences []string) []string {
	out := sentences[:0:0]
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitComplete invokes chunker (DefaultChunker if nil) and returns the
// complete sentences plus the remaining incomplete tail.
func SplitComplete(pending string, chunker Chunker) (complete []string, rest string) {
	if chunker == nil {
		chunker = DefaultChunker
	}
	parts := chunker(pending)
	if len(parts) == 0 {
		return nil, pending
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

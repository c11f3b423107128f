package fulltext

import (
	"strings"
	"unicode"
)

// cjk reports whether r belongs to a script segmented without spaces.
func cjk(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Segment rewrites text so the unicode61 tokenizer can index CJK content:
// runs of CJK characters are expanded into overlapping bigrams separated by
// spaces, while ASCII and other space-delimited text passes through untouched.
// The same transform is applied to documents and to queries, so bigrams line
// up on both sides.
func Segment(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	var run []rune
	flush := func() {
		if len(run) == 0 {
			return
		}
		if len(run) == 1 {
			b.WriteRune(run[0])
			b.WriteByte(' ')
		} else {
			for i := 0; i+1 < len(run); i++ {
				b.WriteRune(run[i])
				b.WriteRune(run[i+1])
				b.WriteByte(' ')
			}
		}
		run = run[:0]
	}

	for _, r := range text {
		if cjk(r) {
			run = append(run, r)
			continue
		}
		flush()
		b.WriteRune(r)
	}
	flush()
	return b.String()
}

// matchQuery turns free-form query text into an FTS5 MATCH expression: each
// token is double-quoted so FTS5 syntax characters in user input stay inert,
// and tokens are joined with implicit AND. A lone CJK character becomes a
// prefix token, because documents index runs of two or more CJK characters
// as bigrams only; the prefix form matches any indexed bigram starting with
// that character, as well as a genuine single-character run.
func matchQuery(text string) string {
	fields := strings.Fields(Segment(text))
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		q := `"` + f + `"`
		if r := []rune(f); len(r) == 1 && cjk(r[0]) {
			q += "*"
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " ")
}

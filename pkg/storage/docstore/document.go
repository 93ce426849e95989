package docstore

import (
	"errors"
	"strings"
)

var (
	// ErrSentenceIndex is returned for a sentence index outside 1..N+1.
	ErrSentenceIndex = errors.New("sentence index out of range")

	// ErrWordIndex is returned for a word index outside 1..M+1.
	ErrWordIndex = errors.New("word index out of range")

	// ErrEmptyEdit is returned when an edit carries no content words.
	ErrEmptyEdit = errors.New("empty edit content")
)

// Document is a file parsed into the sentence/word model the write protocol
// edits. A sentence is a maximal run of text ending in '.', '!' or '?'
// (consecutive terminators such as "..." or "?!" stay with their sentence),
// and its words are the whitespace-separated tokens of that run, terminator
// included. Text after the last terminator forms a final, unterminated
// sentence. Both sentences and words are 1-indexed on the wire.
type Document struct {
	sentences [][]string
}

func isTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

// Parse splits content into sentences. Runs that contain no words (stray
// terminators, pure whitespace) are dropped, so every parsed sentence is
// non-empty.
func Parse(content []byte) *Document {
	d := &Document{}
	text := string(content)
	start := 0
	for i := 0; i < len(text); i++ {
		if !isTerminator(text[i]) {
			continue
		}
		j := i + 1
		for j < len(text) && isTerminator(text[j]) {
			j++
		}
		if words := strings.Fields(text[start:j]); len(words) > 0 {
			d.sentences = append(d.sentences, words)
		}
		start = j
		i = j - 1
	}
	if words := strings.Fields(text[start:]); len(words) > 0 {
		d.sentences = append(d.sentences, words)
	}
	return d
}

// Len returns the number of sentences.
func (d *Document) Len() int {
	return len(d.sentences)
}

// Words returns a copy of sentence s's words, or nil when s is out of range.
func (d *Document) Words(s int) []string {
	if s < 1 || s > len(d.sentences) {
		return nil
	}
	out := make([]string, len(d.sentences[s-1]))
	copy(out, d.sentences[s-1])
	return out
}

// SetSentence replaces sentence s with the given words, or appends them as a
// new sentence when s is past the end. The forgiving append keeps a write
// session's commit meaningful even if another session shrank the document
// underneath it. Empty words leave the document unchanged.
func (d *Document) SetSentence(s int, words []string) {
	if len(words) == 0 {
		return
	}
	if s >= 1 && s <= len(d.sentences) {
		d.sentences[s-1] = words
		return
	}
	d.sentences = append(d.sentences, words)
}

// Bytes serializes the document: words joined by single spaces, sentences
// separated by single spaces, no trailing newline. Whitespace is normalized
// as a consequence of the word model; the terminator characters themselves
// ride along inside the words that carry them.
func (d *Document) Bytes() []byte {
	parts := make([]string, 0, len(d.sentences))
	for _, words := range d.sentences {
		if len(words) == 0 {
			continue
		}
		parts = append(parts, strings.Join(words, " "))
	}
	return []byte(strings.Join(parts, " "))
}

// EditWords applies a single write-protocol edit to a sentence's word list:
// index w in 1..len(words) replaces word w with content's words, splicing
// them in so multi-word content grows the sentence in place; w equal to
// len(words)+1 appends them after the last word.
func EditWords(words []string, w int, content string) ([]string, error) {
	repl := strings.Fields(content)
	if len(repl) == 0 {
		return nil, ErrEmptyEdit
	}
	switch {
	case w >= 1 && w <= len(words):
		out := make([]string, 0, len(words)-1+len(repl))
		out = append(out, words[:w-1]...)
		out = append(out, repl...)
		out = append(out, words[w:]...)
		return out, nil
	case w == len(words)+1:
		out := make([]string, 0, len(words)+len(repl))
		out = append(out, words...)
		out = append(out, repl...)
		return out, nil
	default:
		return nil, ErrWordIndex
	}
}

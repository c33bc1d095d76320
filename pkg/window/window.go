// Package window keeps the bounded question/answer history that is replayed
// into every AI prompt.
package window

import "strings"

// Size is the number of exchanges visible to the next prompt.
const Size = 3

// Pair is one completed question/answer exchange.
type Pair struct {
	Question string
	Answer   string
}

// History is a FIFO of at most Size pairs. The zero value is ready to use.
type History struct {
	pairs []Pair
}

// Append adds p as the newest pair and drops the oldest ones past Size.
func (h *History) Append(p Pair) {
	h.pairs = append(h.pairs, p)
	if over := len(h.pairs) - Size; over > 0 {
		kept := make([]Pair, Size)
		copy(kept, h.pairs[over:])
		h.pairs = kept
	}
}

// Pairs returns a copy, oldest first.
func (h *History) Pairs() []Pair {
	out := make([]Pair, len(h.pairs))
	copy(out, h.pairs)
	return out
}

func (h *History) Len() int {
	return len(h.pairs)
}

func (h *History) Reset() {
	h.pairs = nil
}

// Build renders the prompt context: category line, the retained pairs in
// chronological order, then the new question.
func Build(categoryLabel string, pairs []Pair, question string) string {
	if len(pairs) > Size {
		pairs = pairs[len(pairs)-Size:]
	}

	var sb strings.Builder
	sb.WriteString("Kategoriya: ")
	sb.WriteString(categoryLabel)
	sb.WriteString("\n\nOldingi savol-javoblar:\n")
	for _, p := range pairs {
		sb.WriteString("Savol: ")
		sb.WriteString(p.Question)
		sb.WriteString("\nJavob: ")
		sb.WriteString(p.Answer)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Yangi savol: ")
	sb.WriteString(question)
	return sb.String()
}

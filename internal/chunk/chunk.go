// Package chunk implements the hybrid chunker the chunk worker runs: a
// token-bounded splitter that respects markdown structural boundaries and
// coalesces adjacent siblings ("merge_peers") while they still fit the
// token budget, attaching the heading stack as each chunk's provenance.
package chunk

import (
	"strings"
)

// Tokenizer measures the length of a chunk candidate the way the embedding
// model will see it. Workers wire in the document tokenizer here.
type Tokenizer interface {
	Count(s string) int
}

// Chunk is one piece of a Chunk Set (spec's §3 "Chunk Set").
type Chunk struct {
	Index       int
	Text        string
	SectionPath []string
}

// Options configures a single chunking run.
type Options struct {
	MaxTokens  int
	MergePeers bool
}

// Chunker produces a finite ordered sequence of chunks whose token count is
// bounded by opt.MaxTokens and whose provenance is the markdown heading
// stack in effect when the text was encountered.
type Chunker struct {
	Tokenizer Tokenizer
}

type block struct {
	text    string
	section []string
}

// Chunk splits markdown-ish text into token-bounded, structurally-provenanced
// chunks. It never drops content: any single block exceeding MaxTokens is
// further split on whitespace boundaries so every chunk still respects the
// bound.
func (c Chunker) Chunk(text string, opt Options) []Chunk {
	maxTokens := opt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	blocks := splitIntoBlocks(text)

	var pieces []block
	for _, b := range blocks {
		if c.count(b.text) <= maxTokens {
			pieces = append(pieces, b)
			continue
		}
		pieces = append(pieces, c.splitOversized(b, maxTokens)...)
	}

	if opt.MergePeers {
		pieces = c.mergePeers(pieces, maxTokens)
	}

	out := make([]Chunk, len(pieces))
	for i, p := range pieces {
		out[i] = Chunk{Index: i, Text: p.text, SectionPath: p.section}
	}
	return out
}

func (c Chunker) count(s string) int {
	if c.Tokenizer == nil {
		return len(s)
	}
	return c.Tokenizer.Count(s)
}

// splitIntoBlocks walks the document tracking the active heading stack and
// emits one block per paragraph, tagged with the section path active when
// that paragraph was seen.
func splitIntoBlocks(text string) []block {
	lines := strings.Split(text, "\n")
	var stack []string
	var out []block
	var buf strings.Builder

	flush := func() {
		s := strings.TrimSpace(buf.String())
		if s != "" {
			out = append(out, block{text: s, section: append([]string(nil), stack...)})
		}
		buf.Reset()
	}

	for _, ln := range lines {
		if level, title, ok := headingLevel(ln); ok {
			flush()
			if level-1 < len(stack) {
				stack = stack[:level-1]
			}
			stack = append(stack, title)
			out = append(out, block{text: ln, section: append([]string(nil), stack...)})
			continue
		}
		if strings.TrimSpace(ln) == "" {
			flush()
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(ln)
	}
	flush()
	return out
}

func headingLevel(line string) (level int, title string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(trimmed) || trimmed[n] != ' ' {
		return 0, "", false
	}
	return n, strings.TrimSpace(trimmed[n:]), true
}

// splitOversized breaks a single block that exceeds maxTokens into several
// whitespace-bounded pieces, preserving its section path on every piece.
func (c Chunker) splitOversized(b block, maxTokens int) []block {
	words := strings.Fields(b.text)
	if len(words) == 0 {
		return []block{b}
	}
	var out []block
	var cur []string
	for _, w := range words {
		if c.count(w) > maxTokens {
			if len(cur) > 0 {
				out = append(out, block{text: strings.Join(cur, " "), section: b.section})
				cur = nil
			}
			for r := []rune(w); len(r) > 0; {
				n := len(r)
				for n > 1 && c.count(string(r[:n])) > maxTokens {
					n--
				}
				out = append(out, block{text: string(r[:n]), section: b.section})
				r = r[n:]
			}
			continue
		}
		cur = append(cur, w)
		if c.count(strings.Join(cur, " ")) > maxTokens && len(cur) > 1 {
			last := cur[len(cur)-1]
			cur = cur[:len(cur)-1]
			out = append(out, block{text: strings.Join(cur, " "), section: b.section})
			cur = []string{last}
		}
	}
	if len(cur) > 0 {
		out = append(out, block{text: strings.Join(cur, " "), section: b.section})
	}
	return out
}

// mergePeers coalesces adjacent blocks that share the same section path when
// their combined token count still fits maxTokens.
func (c Chunker) mergePeers(pieces []block, maxTokens int) []block {
	if len(pieces) == 0 {
		return pieces
	}
	out := []block{pieces[0]}
	for _, p := range pieces[1:] {
		last := &out[len(out)-1]
		if samePath(last.section, p.section) {
			joined := last.text + "\n\n" + p.text
			if c.count(joined) <= maxTokens {
				last.text = joined
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

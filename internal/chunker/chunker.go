// Package chunker splits markdown documents into content-coherent,
// token-bounded chunks carrying heading context. Splitting is a
// deterministic line scan: same input and bounds, same chunks.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// Chunk is created once by the chunker and never mutated afterwards.
// Line numbers are 1-based and inclusive.
type Chunk struct {
	ID            string   `json:"id"`
	Ordinal       int      `json:"ordinal"`
	Text          string   `json:"text"`
	Heading       string   `json:"heading"`
	Level         int      `json:"level"`
	ParentID      string   `json:"parent_id,omitempty"`
	TokenEstimate int      `json:"token_estimate"`
	Importance    float64  `json:"importance"`
	Keywords      []string `json:"keywords,omitempty"`
	StartLine     int      `json:"start_line"`
	EndLine       int      `json:"end_line"`
}

type Options struct {
	MinTokens int
	MaxTokens int
}

type Chunker struct {
	minTokens int
	maxTokens int
}

// sentinelHeading tags content that appears before the first heading.
const sentinelHeading = "Introduction"

var (
	headingRe     = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	sentenceEndRe = regexp.MustCompile(`[.!?。！？]["')\]]?\s*$`)
)

func New(opts Options) (*Chunker, error) {
	if opts.MinTokens <= 0 || opts.MaxTokens < opts.MinTokens {
		return nil, fmt.Errorf("chunker: bounds must satisfy maxTokens >= minTokens > 0, got min=%d max=%d", opts.MinTokens, opts.MaxTokens)
	}
	return &Chunker{minTokens: opts.MinTokens, maxTokens: opts.MaxTokens}, nil
}

// Split never fails: malformed markdown degrades gracefully, a document
// without headings keeps the sentinel heading, empty input yields nothing.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(text, "\n")

	var chunks []Chunk
	var buf []string
	bufStart := 0
	heading := sentinelHeading
	level := 0

	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			// Flush the accumulated section under the previous heading.
			// Undersized buffers merge forward into the new section.
			if estimate(buf) >= c.minTokens {
				c.emit(&chunks, buf, heading, level, bufStart, i-1)
				buf = nil
			}
			heading = strings.TrimSpace(m[2])
			level = len(m[1])
			if len(buf) == 0 {
				bufStart = i
			}
			buf = append(buf, line)
			continue
		}

		if len(buf) == 0 {
			bufStart = i
		}
		buf = append(buf, line)

		if estimate(buf) >= c.maxTokens {
			// The minimum bound holds at heading flushes only; a cut
			// piece here may land below minTokens when the boundary
			// sits near the start of the buffer.
			split := splitPoint(buf)
			c.emit(&chunks, buf[:split], heading, level, bufStart, bufStart+split-1)
			buf = buf[split:]
			bufStart += split
		}
	}

	// Relaxed final threshold: a trailing fragment below minTokens/2 is
	// discarded.
	if 2*estimate(buf) >= c.minTokens {
		c.emit(&chunks, buf, heading, level, bufStart, len(lines)-1)
	}
	return chunks
}

func (c *Chunker) emit(chunks *[]Chunk, buf []string, heading string, level, startLine, endLine int) {
	text := strings.Join(buf, "\n")
	if strings.TrimSpace(text) == "" {
		return
	}
	ordinal := len(*chunks)
	*chunks = append(*chunks, Chunk{
		ID:            fmt.Sprintf("chunk-%d", ordinal),
		Ordinal:       ordinal,
		Text:          text,
		Heading:       heading,
		Level:         level,
		ParentID:      parentID(*chunks, level),
		TokenEstimate: estimate(buf),
		Importance:    Score(text, level),
		Keywords:      Keywords(text),
		StartLine:     startLine + 1,
		EndLine:       endLine + 1,
	})
}

// parentID is the id of the most recent chunk with a strictly shallower
// heading level, a weak reference by id.
func parentID(chunks []Chunk, level int) string {
	for i := len(chunks) - 1; i >= 0; i-- {
		if chunks[i].Level < level {
			return chunks[i].ID
		}
	}
	return ""
}

// estimate is ceil(chars/4) over the joined buffer. It grows monotonically
// as lines are appended.
func estimate(buf []string) int {
	if len(buf) == 0 {
		return 0
	}
	chars := len(buf) - 1 // joining newlines
	for _, line := range buf {
		chars += len(line)
	}
	return (chars + 3) / 4
}

// splitPoint searches backward from the buffer midpoint for a paragraph
// boundary, then for a sentence-ending line, and finally falls back to
// 75% of the buffer.
func splitPoint(buf []string) int {
	mid := len(buf) / 2
	for i := mid; i > 0; i-- {
		if strings.TrimSpace(buf[i]) == "" {
			return i
		}
	}
	for i := mid; i > 0; i-- {
		if sentenceEndRe.MatchString(buf[i]) {
			return i + 1
		}
	}
	split := len(buf) * 3 / 4
	if split < 1 {
		split = 1
	}
	return split
}

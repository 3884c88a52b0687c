package block

import (
	"iter"
	"strings"
)

// Fence markers. A fence opened with one family is only closed by the same.
const (
	BacktickFence = "```"
	TildeFence    = "~~~"
)

// Line is one line of a document. Number is 1-based and Text keeps its
// trailing newline, if any.
type Line struct {
	Number int
	Text   string
}

// Element is either a *Prose segment or a *Fence.
type Element interface {
	FirstLine() int
}

// Prose is a run of lines outside any fence.
type Prose struct {
	Lines []Line
}

// FirstLine returns the number of the first line of the segment.
func (p *Prose) FirstLine() int {
	return p.Lines[0].Number
}

// Fence is a raw fenced region before option resolution.
type Fence struct {
	Marker     string
	InfoString string
	Open       Line
	// Lines are the inner lines. Text before the marker on the closing line is
	// kept as a final line.
	Lines []Line
	// Closed is false when the document ended before a closing marker.
	Closed bool
}

// FirstLine returns the number of the opening fence line.
func (f *Fence) FirstLine() int {
	return f.Open.Number
}

// Language is the first word of the info string, or "".
func (f *Fence) Language() string {
	fields := strings.Fields(f.InfoString)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func openingMarker(text string) (string, bool) {
	switch {
	case strings.HasPrefix(text, BacktickFence):
		return BacktickFence, true
	case strings.HasPrefix(text, TildeFence):
		return TildeFence, true
	default:
		return "", false
	}
}

// isClosing reports whether text closes a fence opened with marker: its
// trimmed text begins with the marker.
func isClosing(text, marker string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), marker)
}

func splitLines(text string) []Line {
	parts := strings.SplitAfter(text, "\n")
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	lines := make([]Line, len(parts))
	for i, p := range parts {
		lines[i] = Line{Number: i + 1, Text: p}
	}
	return lines
}

// Elements lazily splits a document into prose segments and raw fences in
// document order.
func Elements(text string) iter.Seq[Element] {
	return func(yield func(Element) bool) {
		lines := splitLines(text)
		var prose []Line

		for i := 0; i < len(lines); i++ {
			marker, ok := openingMarker(lines[i].Text)
			if !ok {
				prose = append(prose, lines[i])
				continue
			}
			if len(prose) > 0 {
				if !yield(&Prose{Lines: prose}) {
					return
				}
				prose = nil
			}

			fence := &Fence{
				Marker:     marker,
				InfoString: strings.TrimSpace(lines[i].Text[len(marker):]),
				Open:       lines[i],
			}
			for i+1 < len(lines) {
				i++
				if !isClosing(lines[i].Text, marker) {
					fence.Lines = append(fence.Lines, lines[i])
					continue
				}
				fence.Closed = true
				break
			}
			if !yield(fence) {
				return
			}
		}

		if len(prose) > 0 {
			yield(&Prose{Lines: prose})
		}
	}
}

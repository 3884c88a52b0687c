package cache

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// TimeLayout is the layout of Entry.Created. It is fixed width so that
// lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000"

// manifestColumns is the number of columns of a manifest line.
const manifestColumns = 7

// Entry is one manifest line. One entry is appended per successful session
// execution.
type Entry struct {
	Created       string
	RuntimeMS     int
	CaptureSize   int
	CaptureDigest string
	TaskKey       string
	DocPath       string
	Description   string
}

// Validate checks that the entry survives a dump and parse. Every column but
// the description must be a non-empty token without whitespace.
func (e Entry) Validate() error {
	tokens := map[string]string{
		"created":        e.Created,
		"capture_digest": e.CaptureDigest,
		"task_key":       e.TaskKey,
		"doc_path":       e.DocPath,
	}
	for name, v := range tokens {
		if v == "" || strings.ContainsFunc(v, isSpace) {
			return fmt.Errorf("manifest column %s must be a non-empty token, got %q", name, v)
		}
	}
	if e.RuntimeMS < 0 || e.CaptureSize < 0 {
		return fmt.Errorf("manifest entry has negative runtime or size")
	}
	if e.Description != strings.TrimSpace(e.Description) || strings.ContainsAny(e.Description, "\r\n") {
		return fmt.Errorf("manifest description must be one trimmed line, got %q", e.Description)
	}
	return nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func (e Entry) columns() []any {
	return []any{e.Created, e.RuntimeMS, e.CaptureSize, e.CaptureDigest, e.TaskKey, e.DocPath, e.Description}
}

// less orders entries column by column.
func (e Entry) less(o Entry) bool {
	a, b := e.columns(), o.columns()
	for i := range a {
		switch x := a[i].(type) {
		case string:
			y := b[i].(string)
			if x != y {
				return x < y
			}
		case int:
			y := b[i].(int)
			if x != y {
				return x < y
			}
		}
	}
	return false
}

// SortEntries sorts entries in manifest order.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].less(entries[j]) })
}

// Dumps renders entries as fixed-width columns separated by two spaces.
// Strings are left-justified, integers right-justified and each line is
// right-trimmed. Entries are rendered in the given order.
func Dumps(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	widths := make([]int, manifestColumns)
	for _, e := range entries {
		for i, v := range e.columns() {
			widths[i] = max(widths[i], len(fmt.Sprint(v)))
		}
	}

	lines := make([]string, 0, len(entries))
	var sb strings.Builder
	for _, e := range entries {
		sb.Reset()
		for i, v := range e.columns() {
			switch v.(type) {
			case int:
				fmt.Fprintf(&sb, "%*v  ", widths[i], v)
			default:
				fmt.Fprintf(&sb, "%-*v  ", widths[i], v)
			}
		}
		lines = append(lines, strings.TrimRight(sb.String(), " "))
	}
	return strings.Join(lines, "\n")
}

var columnSep = regexp.MustCompile(`\s+`)

// Parse reads the text produced by Dumps. Blank lines are skipped.
func Parse(text string) ([]Entry, error) {
	var entries []Entry
	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := columnSep.Split(line, manifestColumns)
		if len(fields) == manifestColumns-1 {
			// A blank description is trimmed away with the line.
			fields = append(fields, "")
		}
		if len(fields) != manifestColumns {
			return nil, fmt.Errorf("manifest line %d: expected %d columns, got %d", i+1, manifestColumns, len(fields))
		}
		runtime, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: invalid runtime: %w", i+1, err)
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: invalid capture size: %w", i+1, err)
		}
		entries = append(entries, Entry{
			Created:       fields[0],
			RuntimeMS:     runtime,
			CaptureSize:   size,
			CaptureDigest: fields[3],
			TaskKey:       fields[4],
			DocPath:       fields[5],
			Description:   fields[6],
		})
	}
	return entries, nil
}

// verifyRoundTrip dumps entries and checks that parsing yields them back.
func verifyRoundTrip(entries []Entry) (string, error) {
	text := Dumps(entries)
	parsed, err := Parse(text)
	if err != nil {
		return "", fmt.Errorf("manifest round trip failed: %w", err)
	}
	if len(parsed) == 0 && len(entries) == 0 {
		return text, nil
	}
	if !reflect.DeepEqual(parsed, entries) {
		return "", fmt.Errorf("manifest round trip produced different entries")
	}
	return text, nil
}

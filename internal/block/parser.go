package block

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
)

// Block is a classified fenced block. It is never mutated after parsing.
type Block struct {
	Path       string
	FirstLine  int
	InfoString string
	Language   string
	// Lines are the raw inner lines of the fence, options included.
	Lines   []Line
	Options Options
	Kind    Kind
	ID      string
	// Content is the block text with any option preamble removed. Blocks
	// whose options came from a structured body have no content.
	Content string
}

// ContentLines returns Content split into lines, keeping line endings.
func (b *Block) ContentLines() []string {
	if b.Content == "" {
		return nil
	}
	lines := strings.SplitAfter(b.Content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// idNamespace scopes generated identifiers.
var idNamespace = uuid.MustParse("6f1c2a7e-4b1d-5c55-9d7e-2f0e8f5d9a31")

// Parser classifies the fences of one document at a time.
type Parser struct{}

// NewParser creates a new block parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse classifies every fence of a document in order.
func (p *Parser) Parse(ctx context.Context, path, text string) ([]*Block, error) {
	logger := ctxlog.FromContext(ctx)

	var blocks []*Block
	var prev *Block
	for elem := range Elements(text) {
		fence, ok := elem.(*Fence)
		if !ok {
			continue
		}
		if !fence.Closed {
			logger.Warn("Fence is not closed before end of document.", "path", path, "line", fence.FirstLine())
		}

		b, err := p.classify(ctx, path, fence, prev)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
		prev = b
	}
	return blocks, nil
}

func (p *Parser) classify(ctx context.Context, path string, fence *Fence, prev *Block) (*Block, error) {
	logger := ctxlog.FromContext(ctx)

	b := &Block{
		Path:       path,
		FirstLine:  fence.FirstLine(),
		InfoString: fence.InfoString,
		Language:   fence.Language(),
		Lines:      fence.Lines,
	}

	resolved := false
	if isStructured(b.Language) {
		m, isMap, err := decodeStructured(b.Language, joinLines(fence.Lines))
		switch {
		case err != nil:
			logger.Debug("Structured block is not an option mapping.", "path", path, "line", b.FirstLine, "error", err)
		case isMap:
			if fp, ok := m[KeyFilePath]; ok {
				if _, ok := m[KeyType]; !ok {
					m[KeyType] = TypeOutFile
				}
				if _, ok := m[KeyID]; !ok {
					m[KeyID] = fp
				}
			}
			if _, ok := m[KeyType]; ok {
				opts, err := DecodeOptions(m)
				if err != nil {
					return nil, &lperrors.Error{
						Code: lperrors.EParse, Msg: "invalid options", Path: path, Line: b.FirstLine, Cause: err,
					}
				}
				b.Options = opts
				resolved = true
			}
		}
	}

	if !resolved {
		preamble, rest := parsePreamble(b.Language, fence.Lines)
		if id, ok := preamble[KeyID]; ok {
			b.Options.ID = &id
		}
		if typ, ok := preamble[KeyType]; ok {
			b.Options.Type = &typ
		}
		b.Content = joinLines(rest)
	}

	if b.Options.Type == nil {
		typ := TypeRawBlock
		b.Options.Type = &typ
	}
	b.Kind = b.Options.Kind()

	switch {
	case b.Options.ID != nil:
		b.ID = *b.Options.ID
	case b.Options.FilePath != nil:
		b.ID = *b.Options.FilePath
	case prev != nil && prev.Kind == KindRawBlock && prev.Language == b.Language:
		b.ID = prev.ID
	default:
		b.ID = uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s:%d", path, b.FirstLine))).String()
	}
	if b.ID == "" {
		return nil, lperrors.At(lperrors.EParse, path, b.FirstLine, "empty lpid")
	}
	id := b.ID
	b.Options.ID = &id

	logger.Debug("Classified fenced block.", "path", path, "line", b.FirstLine, "lpid", b.ID, "lptype", b.Options.TypeName())
	return b, nil
}

func joinLines(lines []Line) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l.Text)
	}
	return sb.String()
}

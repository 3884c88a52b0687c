package block

import (
	"regexp"
	"slices"
	"strings"
)

type commentSyntax struct {
	open  string // regexp, anchored at line start
	close string // regexp, may be empty
}

var (
	hashComment  = commentSyntax{open: `#`}
	slashComment = commentSyntax{open: `//`}
	dashComment  = commentSyntax{open: `--`}
	pctComment   = commentSyntax{open: `%`}
	semiComment  = commentSyntax{open: `;`}
	htmlComment  = commentSyntax{open: `<!--`, close: `-->`}
	cssComment   = commentSyntax{open: `/\*`, close: `\*/`}
)

// commentSyntaxes maps a fence language to its line comment syntax.
var commentSyntaxes = map[string]commentSyntax{
	"bash":          hashComment,
	"coffee-script": hashComment,
	"dockerfile":    hashComment,
	"elixir":        hashComment,
	"make":          hashComment,
	"nim":           hashComment,
	"perl":          hashComment,
	"python":        hashComment,
	"r":             hashComment,
	"ruby":          hashComment,
	"sh":            hashComment,
	"shell":         hashComment,
	"toml":          hashComment,
	"yaml":          hashComment,
	"yml":           hashComment,
	"zsh":           hashComment,
	"hcl":           hashComment,

	"actionscript": slashComment,
	"c":            slashComment,
	"c++":          slashComment,
	"cpp":          slashComment,
	"csharp":       slashComment,
	"d":            slashComment,
	"fsharp":       slashComment,
	"go":           slashComment,
	"java":         slashComment,
	"javascript":   slashComment,
	"js":           slashComment,
	"json":         slashComment,
	"kotlin":       slashComment,
	"php":          slashComment,
	"rust":         slashComment,
	"scala":        slashComment,
	"swift":        slashComment,
	"ts":           slashComment,
	"typescript":   slashComment,

	"haskell": dashComment,
	"lua":     dashComment,
	"sql":     dashComment,

	"erlang": pctComment,
	"prolog": pctComment,
	"tex":    pctComment,

	"clojure": semiComment,
	"lisp":    semiComment,
	"scheme":  semiComment,

	"html":     htmlComment,
	"markdown": htmlComment,
	"svg":      htmlComment,
	"xml":      htmlComment,

	"css": cssComment,
}

var preamblePatterns = make(map[commentSyntax]*regexp.Regexp)

func init() {
	for _, syntax := range commentSyntaxes {
		if _, ok := preamblePatterns[syntax]; ok {
			continue
		}
		preamblePatterns[syntax] = regexp.MustCompile(
			`^` + syntax.open + `\s*(lp\w+)\s*=\s*([^\s,]+?)\s*` + syntax.close + `\s*$`,
		)
	}
}

// preamblePattern returns the option line pattern for a language.
func preamblePattern(language string) (*regexp.Regexp, bool) {
	syntax, ok := commentSyntaxes[strings.ToLower(language)]
	if !ok {
		return nil, false
	}
	return preamblePatterns[syntax], true
}

// parsePreamble consumes leading option comment lines. It returns the
// options found and the remaining content lines. The scan stops at the first
// line that is not an allowed option comment.
func parsePreamble(language string, lines []Line) (map[string]string, []Line) {
	pattern, ok := preamblePattern(language)
	if !ok {
		return nil, lines
	}

	options := make(map[string]string)
	consumed := 0
	for _, line := range lines {
		m := pattern.FindStringSubmatch(strings.TrimRight(line.Text, "\r\n"))
		if m == nil || !slices.Contains(PreambleKeys, m[1]) {
			break
		}
		options[m[1]] = m[2]
		consumed++
	}
	return options, lines[consumed:]
}

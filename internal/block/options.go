package block

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/shlex"
)

// Option keys.
const (
	KeyType             = "lptype"
	KeyID               = "lpid"
	KeyFilePath         = "filepath"
	KeyInputs           = "inputs"
	KeyRequires         = "requires"
	KeyCommand          = "command"
	KeyEncoding         = "encoding"
	KeyIsExecutable     = "is_executable"
	KeyExpectedExitCode = "expected_exit_code"
	KeyTimeout          = "timeout"
	KeyInputDelay       = "input_delay"
	KeyEnv              = "env"
)

// AllowedKeys is the allow-list of option keys accepted from structured
// option blocks. Blocks of type meta may carry further keys, which are kept
// in Options.Extra.
var AllowedKeys = []string{
	KeyType, KeyID, KeyFilePath, KeyInputs, KeyRequires, KeyCommand, KeyEncoding,
	KeyIsExecutable, KeyExpectedExitCode, KeyTimeout, KeyInputDelay, KeyEnv,
}

// PreambleKeys is the allow-list of keys accepted from comment preambles.
var PreambleKeys = []string{KeyID, KeyType}

// Command is the command option of a session. It is either a single line
// that is shell-tokenized on use, or an explicit argument list.
type Command struct {
	Line string
	Args []string
}

// Argv returns the argument list of the command.
func (c Command) Argv() ([]string, error) {
	if c.Args != nil {
		return slices.Clone(c.Args), nil
	}
	args, err := shlex.Split(c.Line)
	if err != nil {
		return nil, fmt.Errorf("failed to split command %q: %w", c.Line, err)
	}
	return args, nil
}

// String returns the literal command text.
func (c Command) String() string {
	if c.Args != nil {
		return strings.Join(c.Args, " ")
	}
	return c.Line
}

// Options is the resolved option set of a block or, after aggregation, of an
// identifier. Every field is optional; nil means "not declared".
type Options struct {
	Type             *string           `mapstructure:"lptype"`
	ID               *string           `mapstructure:"lpid"`
	FilePath         *string           `mapstructure:"filepath"`
	Inputs           []string          `mapstructure:"inputs"`
	Requires         []string          `mapstructure:"requires"`
	Command          *Command          `mapstructure:"command"`
	Encoding         *string           `mapstructure:"encoding"`
	IsExecutable     *bool             `mapstructure:"is_executable"`
	ExpectedExitCode *int              `mapstructure:"expected_exit_code"`
	Timeout          *float64          `mapstructure:"timeout"`
	InputDelay       *float64          `mapstructure:"input_delay"`
	Env              map[string]string `mapstructure:"env"`

	// Extra holds the free-form keys of meta blocks.
	Extra map[string]any `mapstructure:",remain"`
}

// Kind decodes the declared lptype. An undeclared lptype is a raw_block.
func (o Options) Kind() Kind {
	if o.Type == nil {
		return KindRawBlock
	}
	return ParseKind(*o.Type)
}

// TypeName returns the declared lptype, or raw_block.
func (o Options) TypeName() string {
	if o.Type == nil {
		return TypeRawBlock
	}
	return *o.Type
}

type optionField struct {
	key   string
	set   bool
	value any
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func (o Options) fields() []optionField {
	var requires []string
	if o.Requires != nil {
		requires = slices.Clone(o.Requires)
		sort.Strings(requires)
		requires = slices.Compact(requires)
	}
	fields := []optionField{
		{KeyType, o.Type != nil, deref(o.Type)},
		{KeyID, o.ID != nil, deref(o.ID)},
		{KeyFilePath, o.FilePath != nil, deref(o.FilePath)},
		{KeyInputs, o.Inputs != nil, o.Inputs},
		{KeyRequires, o.Requires != nil, requires},
		{KeyCommand, o.Command != nil, deref(o.Command)},
		{KeyEncoding, o.Encoding != nil, deref(o.Encoding)},
		{KeyIsExecutable, o.IsExecutable != nil, deref(o.IsExecutable)},
		{KeyExpectedExitCode, o.ExpectedExitCode != nil, deref(o.ExpectedExitCode)},
		{KeyTimeout, o.Timeout != nil, deref(o.Timeout)},
		{KeyInputDelay, o.InputDelay != nil, deref(o.InputDelay)},
		{KeyEnv, o.Env != nil, o.Env},
	}
	for k, v := range o.Extra {
		fields = append(fields, optionField{k, true, v})
	}
	return fields
}

// Keys returns the sorted list of declared keys.
func (o Options) Keys() []string {
	var keys []string
	for _, f := range o.fields() {
		if f.set {
			keys = append(keys, f.key)
		}
	}
	sort.Strings(keys)
	return keys
}

// IsContinuation reports whether o declares exactly {lpid, lptype=raw_block},
// the one shape allowed to append to an identifier of another type.
func (o Options) IsContinuation() bool {
	return slices.Equal(o.Keys(), []string{KeyID, KeyType}) && *o.Type == TypeRawBlock
}

// Conflict returns the first key, in sorted order, that both o and other
// declare with different values.
func (o Options) Conflict(other Options) (string, bool) {
	mine := make(map[string]any)
	for _, f := range o.fields() {
		if f.set {
			mine[f.key] = f.value
		}
	}
	var conflicts []string
	for _, f := range other.fields() {
		if !f.set {
			continue
		}
		if v, ok := mine[f.key]; ok && !reflect.DeepEqual(v, f.value) {
			conflicts = append(conflicts, f.key)
		}
	}
	if len(conflicts) == 0 {
		return "", false
	}
	sort.Strings(conflicts)
	return conflicts[0], true
}

// Merge returns o with every key that other declares and o does not.
func (o Options) Merge(other Options) Options {
	merged := o
	if merged.Type == nil {
		merged.Type = other.Type
	}
	if merged.ID == nil {
		merged.ID = other.ID
	}
	if merged.FilePath == nil {
		merged.FilePath = other.FilePath
	}
	if merged.Inputs == nil {
		merged.Inputs = other.Inputs
	}
	if merged.Requires == nil {
		merged.Requires = other.Requires
	}
	if merged.Command == nil {
		merged.Command = other.Command
	}
	if merged.Encoding == nil {
		merged.Encoding = other.Encoding
	}
	if merged.IsExecutable == nil {
		merged.IsExecutable = other.IsExecutable
	}
	if merged.ExpectedExitCode == nil {
		merged.ExpectedExitCode = other.ExpectedExitCode
	}
	if merged.Timeout == nil {
		merged.Timeout = other.Timeout
	}
	if merged.InputDelay == nil {
		merged.InputDelay = other.InputDelay
	}
	if merged.Env == nil {
		merged.Env = other.Env
	}
	if len(other.Extra) > 0 {
		extra := make(map[string]any, len(o.Extra)+len(other.Extra))
		for k, v := range other.Extra {
			extra[k] = v
		}
		for k, v := range o.Extra {
			extra[k] = v
		}
		merged.Extra = extra
	}
	return merged
}

// DecodeOptions decodes a structured option mapping. Keys outside
// AllowedKeys are rejected unless the mapping declares lptype meta.
func DecodeOptions(m map[string]any) (Options, error) {
	var opts Options

	if m[KeyType] != TypeMeta {
		var unknown []string
		for k := range m {
			if !slices.Contains(AllowedKeys, k) {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return opts, fmt.Errorf("unknown option(s) %s", strings.Join(unknown, ", "))
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			commandHook,
			idListHook,
		),
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return opts, err
	}
	if err := decoder.Decode(m); err != nil {
		return opts, err
	}
	return opts, nil
}

var (
	commandType = reflect.TypeOf(Command{})
	idListType  = reflect.TypeOf([]string{})
)

// commandHook accepts a command as a string or a list of arguments.
func commandHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != commandType {
		return data, nil
	}
	switch v := data.(type) {
	case Command, map[string]any:
		return v, nil
	case string:
		return Command{Line: v}, nil
	case []string:
		return Command{Args: slices.Clone(v)}, nil
	case []any:
		args := make([]string, 0, len(v))
		for _, a := range v {
			args = append(args, fmt.Sprint(a))
		}
		return Command{Args: args}, nil
	default:
		return nil, fmt.Errorf("command must be a string or a list, got %T", data)
	}
}

// idListHook accepts identifier lists written as a comma separated string.
func idListHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != idListType || from.Kind() != reflect.String {
		return data, nil
	}
	var ids []string
	for _, part := range strings.Split(data.(string), ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

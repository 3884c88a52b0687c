package block

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	"gopkg.in/yaml.v3"
)

// structuredDecoders maps a structured-data language to a function decoding
// a document body into a generic value.
var structuredDecoders = map[string]func(string) (any, error){
	"yaml": decodeYAML,
	"yml":  decodeYAML,
	"json": decodeJSON,
	"toml": decodeTOML,
	"hcl":  decodeHCL,
}

// isStructured reports whether a language's body is parsed as option data.
func isStructured(language string) bool {
	_, ok := structuredDecoders[strings.ToLower(language)]
	return ok
}

// decodeStructured parses body as structured data. The second result is
// false when the body is not a mapping.
func decodeStructured(language, body string) (map[string]any, bool, error) {
	decode, ok := structuredDecoders[strings.ToLower(language)]
	if !ok {
		return nil, false, nil
	}
	v, err := decode(body)
	if err != nil {
		return nil, false, err
	}
	m, ok := v.(map[string]any)
	return m, ok, nil
}

func decodeYAML(body string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeJSON(body string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeTOML(body string) (any, error) {
	var v map[string]any
	if _, err := toml.Decode(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeHCL reads top-level attributes only. Blocks are not options.
func decodeHCL(body string) (any, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL([]byte(body), "options.hcl")
	if diags.HasErrors() {
		return nil, diags
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	out := make(map[string]any, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		native, err := ctyToNative(val)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = native
	}
	return out, nil
}

// ctyToNative recursively converts a cty.Value to its natural Go counterpart.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			var i int64
			if err := gocty.FromCtyValue(v, &i); err == nil {
				return int(i), nil
			}
		}
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]any)
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute '%s': %w", key.AsString(), err)
			}
			m[key.AsString()] = native
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported cty type: %s", ty.FriendlyName())
	}
}

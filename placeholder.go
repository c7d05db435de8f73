package sdkplay

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// identExpr is the identifier syntax accepted inside a placeholder token.
const identExpr = `__?[A-Za-z0-9_]+`

var (
	tokenPattern = regexp.MustCompile(`\[\[(` + identExpr + `)\]\]`)
	wholePattern = regexp.MustCompile(`^\[\[(` + identExpr + `)\]\]$`)
)

// Lookup returns the current value bound to name.
type Lookup interface {
	Lookup(name string) (any, bool)
}

// Resolver substitutes [[name]] tokens with values from a Lookup.
type Resolver struct {
	vars Lookup
}

// NewResolver returns a Resolver reading bindings from vars.
func NewResolver(vars Lookup) *Resolver {
	return &Resolver{vars: vars}
}

// IsToken reports whether s is exactly one placeholder token, and returns its name.
func IsToken(s string) (string, bool) {
	m := wholePattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Resolve walks v and replaces placeholder tokens in string leaves.
// A string that is exactly one token is replaced by the bound value itself;
// tokens embedded in a longer string are replaced by the value's string form.
// Lists and maps are copied, never mutated in place. Values that are not
// strings, lists or maps are returned unchanged.
func (r *Resolver) Resolve(v any) (any, error) {
	return r.resolve(v, "$")
}

func (r *Resolver) resolve(v any, path string) (any, error) {
	switch t := v.(type) {
	case string:
		return r.resolveString(t, path)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			rv, err := r.resolve(elem, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			rv, err := r.resolve(elem, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveString(s, path string) (any, error) {
	if name, ok := IsToken(s); ok {
		val, bound := r.lookup(name)
		if !bound {
			return nil, &UnboundVariableError{Token: s, Name: name, Path: path}
		}
		return val, nil
	}
	if !tokenPattern.MatchString(s) {
		return s, nil
	}
	var unbound *UnboundVariableError
	out := tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		if unbound != nil {
			return tok
		}
		name := tok[2 : len(tok)-2]
		val, bound := r.lookup(name)
		if !bound {
			unbound = &UnboundVariableError{Token: tok, Name: name, Path: path}
			return tok
		}
		return stringForm(val)
	})
	if unbound != nil {
		return nil, unbound
	}
	return out, nil
}

func (r *Resolver) lookup(name string) (any, bool) {
	if r.vars == nil {
		return nil, false
	}
	return r.vars.Lookup(name)
}

// stringForm renders a bound value for embedding inside a larger string.
func stringForm(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case nil:
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

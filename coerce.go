package sdkplay

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Coercer converts raw configuration values into typed call arguments.
type Coercer struct {
	resolver *Resolver
	files    *FileStore
	eval     Evaluator
}

// NewCoercer returns a Coercer. files and eval may be nil, in which case
// file-kind and function-kind parameters always fail.
func NewCoercer(resolver *Resolver, files *FileStore, eval Evaluator) *Coercer {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	return &Coercer{resolver: resolver, files: files, eval: eval}
}

// Coerce converts raw to the argument expected for p. d supplies the
// operation context (external view hint, names for compiled callables) and
// may be nil.
func (c *Coercer) Coerce(p ParamDescriptor, raw any, d *APIDescriptor) (any, error) {
	switch p.Type {
	case KindNumber:
		return c.number(p, raw)
	case KindString:
		return c.text(p, raw)
	case KindBoolean:
		return c.boolean(p, raw)
	case KindJSON:
		return c.structured(p, raw)
	case KindFile:
		return c.file(p, raw, d)
	case KindFunction:
		return c.function(p, raw, d)
	default:
		return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: "unknown kind"}
	}
}

// resolveToken replaces raw with its bound value when raw is a string made of
// exactly one placeholder token.
func (c *Coercer) resolveToken(p ParamDescriptor, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	if _, isToken := IsToken(strings.TrimSpace(s)); !isToken {
		return raw, nil
	}
	v, err := c.resolver.Resolve(strings.TrimSpace(s))
	return v, withParam(err, p.Name)
}

func (c *Coercer) number(p ParamDescriptor, raw any) (any, error) {
	raw, err := c.resolveToken(p, raw)
	if err != nil {
		return nil, err
	}
	fail := func(reason string) error {
		return &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: reason}
	}
	switch v := raw.(type) {
	case nil:
		return nil, fail("value is missing")
	case bool:
		return nil, fail("booleans are not numbers")
	case string:
		raw = strings.TrimSpace(v)
		if raw == "" {
			return nil, fail("empty string")
		}
	case json.Number:
		raw = v.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
	default:
		return nil, fail("")
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return nil, fail(err.Error())
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fail("not a finite number")
	}
	return f, nil
}

func (c *Coercer) text(p ParamDescriptor, raw any) (any, error) {
	if s, ok := raw.(string); ok {
		// One pass only: a whole token is replaced by its value, otherwise
		// embedded tokens are spliced in. Substituted text is not re-scanned.
		if _, whole := IsToken(strings.TrimSpace(s)); whole {
			s = strings.TrimSpace(s)
		}
		resolved, err := c.resolver.Resolve(s)
		if err != nil {
			return nil, withParam(err, p.Name)
		}
		raw = resolved
	}
	switch raw.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: err.Error()}
		}
		return s, nil
	case nil:
		return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: "value is missing"}
	default:
		return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw}
	}
}

func (c *Coercer) boolean(p ParamDescriptor, raw any) (any, error) {
	raw, err := c.resolveToken(p, raw)
	if err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := cast.ToBoolE(strings.TrimSpace(v))
		if err != nil {
			return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: err.Error()}
		}
		return b, nil
	case nil:
		return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: "value is missing"}
	default:
		return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw}
	}
}

// structured parses JSON text (or relaxed YAML flow syntax yielding a map or a
// list) and resolves placeholders in every string leaf.
func (c *Coercer) structured(p ParamDescriptor, raw any) (any, error) {
	s, isText := raw.(string)
	if !isText {
		v, err := c.resolver.Resolve(raw)
		return v, withParam(err, p.Name)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: "empty document"}
	}
	if _, ok := IsToken(s); ok {
		v, err := c.resolver.Resolve(s)
		return v, withParam(err, p.Name)
	}

	parsed, err := parseStructured(s)
	if err != nil {
		return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: err.Error()}
	}
	v, err := c.resolver.Resolve(parsed)
	return v, withParam(err, p.Name)
}

func parseStructured(s string) (any, error) {
	var v any
	jsonErr := json.Unmarshal([]byte(s), &v)
	if jsonErr == nil {
		return v, nil
	}
	var y any
	if err := yaml.Unmarshal([]byte(s), &y); err == nil {
		switch norm := normalizeYAML(y).(type) {
		case map[string]any, []any:
			return norm, nil
		}
	}
	return nil, jsonErr
}

// normalizeYAML rewrites yaml.v3 output into the shapes encoding/json
// produces: string-keyed maps and float64 numbers.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeYAML(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		return v
	}
}

func (c *Coercer) file(p ParamDescriptor, raw any, d *APIDescriptor) (any, error) {
	var ref string
	switch v := raw.(type) {
	case *File:
		return v, nil
	case string:
		ref = strings.TrimSpace(v)
	case nil:
	default:
		return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: "expected a file reference"}
	}
	if ref == "" && d != nil {
		ref = d.ExternalView
	}
	if ref == "" || c.files == nil {
		return nil, &MissingFileError{Param: p.Name, Ref: ref}
	}
	f, ok := c.files.Get(ref)
	if !ok {
		return nil, &MissingFileError{Param: p.Name, Ref: ref}
	}
	return f, nil
}

func (c *Coercer) function(p ParamDescriptor, raw any, d *APIDescriptor) (any, error) {
	switch v := raw.(type) {
	case Callable:
		return v, nil
	case nil:
		return nil, nil
	case string:
		src := strings.TrimSpace(v)
		if src == "" {
			return nil, nil
		}
		if c.eval == nil {
			return nil, &EvaluationError{Param: p.Name, Err: errors.New("no function evaluator configured")}
		}
		name := p.Name
		if d != nil {
			name = d.Key() + "#" + p.Name
		}
		fn, err := c.eval.Compile(name, src)
		if err != nil {
			return nil, &EvaluationError{Param: p.Name, Err: err}
		}
		return fn, nil
	default:
		return nil, &CoercionError{Param: p.Name, Kind: p.Type, Value: raw, Reason: "expected function source"}
	}
}

func withParam(err error, param string) error {
	var unbound *UnboundVariableError
	if errors.As(err, &unbound) && unbound.Param == "" {
		unbound.Param = param
	}
	return err
}

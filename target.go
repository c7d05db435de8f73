package sdkplay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"unicode"
	"unicode/utf8"

	"github.com/go-viper/mapstructure/v2"
)

// ErrNoSuchMethod is returned by ReflectTarget when the object has no method
// for the requested operation name.
var ErrNoSuchMethod = errors.New("no such method")

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
	bytesType   = reflect.TypeFor[[]byte]()
	readerType  = reflect.TypeFor[io.Reader]()
)

// ReflectTarget exposes the exported methods of a Go object as a Target.
// Operation names are matched against method names with the first letter
// upper-cased, so "sendText" calls SendText.
//
// A method whose first parameter is a context.Context receives the invocation
// context. Missing trailing arguments are passed as zero values. Results may
// be (), (T), (error) or (T, error).
type ReflectTarget struct {
	v      reflect.Value
	logger *slog.Logger
}

// NewReflectTarget wraps obj. It panics if obj is nil.
func NewReflectTarget(obj any) *ReflectTarget {
	if obj == nil {
		panic("sdkplay: nil reflect target")
	}
	return &ReflectTarget{v: reflect.ValueOf(obj)}
}

// WithLogger sets the logger used for callback failures that the callback's
// Go signature cannot report.
func (t *ReflectTarget) WithLogger(logger *slog.Logger) *ReflectTarget {
	t.logger = logger
	return t
}

// Object returns the wrapped object.
func (t *ReflectTarget) Object() any { return t.v.Interface() }

// Methods returns the callable operation names, sorted.
func (t *ReflectTarget) Methods() []string {
	typ := t.v.Type()
	names := make([]string, 0, typ.NumMethod())
	for i := range typ.NumMethod() {
		names = append(names, lowerFirst(typ.Method(i).Name))
	}
	slices.Sort(names)
	return names
}

// Call implements Target.
func (t *ReflectTarget) Call(ctx context.Context, method string, args []any) (any, error) {
	m := t.v.MethodByName(upperFirst(method))
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoSuchMethod, method, t.v.Type())
	}
	mt := m.Type()

	offset := 0
	in := make([]reflect.Value, 0, mt.NumIn())
	if mt.NumIn() > 0 && mt.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		offset = 1
	}
	fixed := mt.NumIn() - offset
	if mt.IsVariadic() {
		fixed--
	}
	if !mt.IsVariadic() && len(args) > fixed {
		return nil, &ArgumentError{
			Index: fixed,
			Want:  fmt.Sprintf("at most %d arguments", fixed),
			Got:   fmt.Sprintf("%d arguments", len(args)),
		}
	}

	for i, a := range args {
		var pt reflect.Type
		if i < fixed {
			pt = mt.In(offset + i)
		} else {
			pt = mt.In(mt.NumIn() - 1).Elem()
		}
		v, err := t.convert(ctx, i, a, pt)
		if err != nil {
			return nil, err
		}
		in = append(in, v)
	}
	for i := len(args); i < fixed; i++ {
		in = append(in, reflect.Zero(mt.In(offset+i)))
	}

	return splitResults(m.Call(in))
}

func splitResults(outs []reflect.Value) (any, error) {
	switch len(outs) {
	case 0:
		return nil, nil
	case 1:
		if outs[0].Type() == errorType {
			return nil, asError(outs[0])
		}
		return outs[0].Interface(), nil
	default:
		return outs[0].Interface(), asError(outs[len(outs)-1])
	}
}

func asError(v reflect.Value) error {
	if v.Kind() != reflect.Interface || v.IsNil() {
		return nil
	}
	err, _ := v.Interface().(error)
	return err
}

func (t *ReflectTarget) convert(ctx context.Context, idx int, v any, typ reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(typ), nil
	}
	if c, ok := v.(Callable); ok && typ.Kind() == reflect.Func {
		return t.adaptCallable(ctx, idx, c, typ)
	}
	if f, ok := v.(*File); ok {
		switch typ {
		case bytesType:
			return reflect.ValueOf(f.Bytes()), nil
		case readerType:
			return reflect.ValueOf(f.Reader()), nil
		}
	}
	out, err := convertValue(v, typ)
	if err != nil {
		return reflect.Value{}, &ArgumentError{Index: idx, Want: typ.String(), Got: fmt.Sprintf("%T", v), Err: err}
	}
	return out, nil
}

// convertValue converts a prepared argument to typ. Numbers must be exactly
// representable; lists and maps are decoded through json field tags.
func convertValue(v any, typ reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(typ), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(typ) {
		return rv, nil
	}

	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := toFloat(rv)
		if !ok {
			break
		}
		if f != math.Trunc(f) {
			return reflect.Value{}, fmt.Errorf("%v is not an integer", f)
		}
		out := reflect.New(typ).Elem()
		if f < math.MinInt64 || f > math.MaxInt64 || out.OverflowInt(int64(f)) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", f, typ)
		}
		out.SetInt(int64(f))
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, ok := toFloat(rv)
		if !ok {
			break
		}
		if f != math.Trunc(f) || f < 0 {
			return reflect.Value{}, fmt.Errorf("%v is not a non-negative integer", f)
		}
		out := reflect.New(typ).Elem()
		if f > math.MaxUint64 || out.OverflowUint(uint64(f)) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", f, typ)
		}
		out.SetUint(uint64(f))
		return out, nil
	case reflect.Float32, reflect.Float64:
		f, ok := toFloat(rv)
		if !ok {
			break
		}
		out := reflect.New(typ).Elem()
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", f, typ)
		}
		out.SetFloat(f)
		return out, nil
	case reflect.String, reflect.Bool:
		if rv.Kind() == typ.Kind() {
			return rv.Convert(typ), nil
		}
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer:
		if rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice || rv.Kind() == reflect.Pointer {
			return decodeInto(v, typ)
		}
	}
	return reflect.Value{}, fmt.Errorf("incompatible kinds %s and %s", rv.Kind(), typ.Kind())
}

func toFloat(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

func decodeInto(v any, typ reflect.Type) (reflect.Value, error) {
	out := reflect.New(typ)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     out.Interface(),
		ZeroFields: true,
	})
	if err != nil {
		return reflect.Value{}, err
	}
	if err := dec.Decode(v); err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

// adaptCallable builds a Go function of type typ that forwards to c.
// Callbacks outlive the invocation, so they run under a context that keeps
// the invocation's values but not its cancellation.
func (t *ReflectTarget) adaptCallable(ctx context.Context, idx int, c Callable, typ reflect.Type) (reflect.Value, error) {
	if !typ.IsVariadic() && c.Arity() > typ.NumIn() {
		return reflect.Value{}, &ArgumentError{
			Index: idx,
			Want:  typ.String(),
			Got:   fmt.Sprintf("function of %d parameters", c.Arity()),
			Err:   fmt.Errorf("%w: callback receives %d arguments", ErrEvaluation, typ.NumIn()),
		}
	}
	if typ.NumOut() > 2 || (typ.NumOut() == 2 && typ.Out(1) != errorType) {
		return reflect.Value{}, &ArgumentError{Index: idx, Want: typ.String(), Got: "function", Err: errors.New("unsupported callback result shape")}
	}

	cbCtx := context.WithoutCancel(ctx)
	logger := t.logger
	if logger == nil {
		logger = slog.Default()
	}

	fn := reflect.MakeFunc(typ, func(in []reflect.Value) []reflect.Value {
		args := make([]any, 0, len(in))
		for i, v := range in {
			if typ.IsVariadic() && i == len(in)-1 {
				for j := range v.Len() {
					args = append(args, v.Index(j).Interface())
				}
				continue
			}
			args = append(args, v.Interface())
		}
		res, err := c.Call(cbCtx, args...)
		return callbackResults(typ, res, err, logger)
	})
	return fn, nil
}

func callbackResults(typ reflect.Type, res any, err error, logger *slog.Logger) []reflect.Value {
	outs := make([]reflect.Value, typ.NumOut())
	for i := range outs {
		outs[i] = reflect.Zero(typ.Out(i))
	}
	errSlot := -1
	if n := typ.NumOut(); n > 0 && typ.Out(n-1) == errorType {
		errSlot = n - 1
	}
	if err == nil && len(outs) > 0 && errSlot != 0 {
		v, cerr := convertValue(res, typ.Out(0))
		if cerr != nil {
			err = fmt.Errorf("callback result: %w", cerr)
		} else {
			outs[0] = v
		}
	}
	if err != nil {
		if errSlot >= 0 {
			outs[errSlot] = reflect.ValueOf(&err).Elem()
		} else {
			logger.Warn("callback failed", slog.Any("error", err))
		}
	}
	return outs
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

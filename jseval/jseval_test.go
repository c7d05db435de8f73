package jseval

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Forms(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		arity int
		args  []any
		want  any
	}{
		{"function expression", "function (a, b) { return a + b }", 2, []any{1, 2}, int64(3)},
		{"named function", "function add(a, b) { return a + b; };", 2, []any{2, 3}, int64(5)},
		{"arrow", "(delay) => delay * 2", 1, []any{1.25}, 2.5},
		{"arrow without parens", "x => x.toUpperCase()", 1, []any{"hi"}, "HI"},
		{"bare body", "return arguments[0] + '!'", 0, []any{"hey"}, "hey!"},
		{"no result", "function () {}", 0, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := New().Compile(tt.name, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.arity, fn.Arity())

			got, err := fn.Call(context.Background(), tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_SyntaxError(t *testing.T) {
	for _, src := range []string{
		"function (a { return a }",
		"return (",
		"",
	} {
		_, err := New().Compile("bad", src)
		assert.Error(t, err, "source %q", src)
	}
}

func TestCompile_DoesNotRunBody(t *testing.T) {
	fn, err := New().Compile("thrower", `throw new Error("boom")`)
	require.NoError(t, err)

	_, err = fn.Call(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCompile_RejectsTrailingStatements(t *testing.T) {
	// Not a single function expression, so it is wrapped as a body and the
	// side effect only happens when the function is called.
	fn, err := New().Compile("seq", "function one() { return 1 }; globalThis.touched = true")
	require.NoError(t, err)
	assert.Equal(t, 0, fn.Arity())

	got, err := fn.Call(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCompile_RejectsWrapperEscape(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := New().WithLogger(logger)

	sources := []string{
		`}); console.error("ran at compile time"); (function () {`,
		`}); while (true) {} (function () {`,
		`}, console.error("ran at compile time"), function () {`,
	}
	for _, src := range sources {
		done := make(chan error, 1)
		go func() {
			_, err := e.Compile("escape", src)
			done <- err
		}()
		select {
		case err := <-done:
			assert.Error(t, err, src)
		case <-time.After(2 * time.Second):
			t.Fatalf("Compile ran %q", src)
		}
	}
	assert.NotContains(t, buf.String(), "ran at compile time")
}

func TestCall_Isolated(t *testing.T) {
	e := New()
	writer, err := e.Compile("writer", "function () { globalThis.shared = 42 }")
	require.NoError(t, err)
	reader, err := e.Compile("reader", "function () { return typeof globalThis.shared }")
	require.NoError(t, err)

	_, err = writer.Call(context.Background())
	require.NoError(t, err)
	got, err := reader.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)
}

func TestCall_StructFieldsUseJSONNames(t *testing.T) {
	type attachment struct {
		Kind string `json:"kind"`
		Size int    `json:"size"`
	}
	fn, err := New().Compile("parser", "function (a) { return { kind: a.kind, big: a.size > 10 } }")
	require.NoError(t, err)

	got, err := fn.Call(context.Background(), attachment{Kind: "image", Size: 20})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kind": "image", "big": true}, got)
}

func TestCall_Interrupted(t *testing.T) {
	fn, err := New().Compile("spin", "function () { for (;;) {} }")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = fn.Call(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	fn2, err := New().WithCallTimeout(20*time.Millisecond).Compile("spin", "for (;;) {}")
	require.NoError(t, err)
	_, err = fn2.Call(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fn, err := New().WithLogger(logger).Compile("chatty", "function (n) { console.warn('delay', n) }")
	require.NoError(t, err)
	_, err = fn.Call(context.Background(), 3)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="delay 3"`)
	assert.Contains(t, out, "function=chatty")
}

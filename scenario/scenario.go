// Package scenario runs scripted sequences of invocations.
//
// A scenario is a YAML or JSON document:
//
//	name: quickstart
//	steps:
//	  - api: auth.login
//	  - api: message.createTextMessage
//	    args:
//	      text: hello
//	  - api: chatroom.sendText
//	    expectError: true
//
// Steps run one after another through the same session, so a step sees the
// variables bound by the steps before it.
package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/broady/sdkplay"
)

// ErrStepFailed is wrapped by the error Run returns when a step did not
// behave as expected.
var ErrStepFailed = errors.New("scenario step failed")

// Scenario is a named list of steps.
type Scenario struct {
	Name  string `json:"name" yaml:"name" validate:"required"`
	Steps []Step `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
	// ContinueOnError keeps running after an unexpected failure. Run still
	// reports the first one.
	ContinueOnError bool `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
}

// Step invokes one operation.
type Step struct {
	API  string         `json:"api" yaml:"api" validate:"required,contains=."`
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	// ExpectError inverts the step: it passes when the invocation fails.
	ExpectError bool `json:"expectError,omitempty" yaml:"expectError,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes a scenario. name selects the format by extension; anything
// other than .json is read as YAML.
func Parse(name string, data []byte) (*Scenario, error) {
	var s Scenario
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &s, nil
}

// Load reads every scenario in fsys matching patterns, in pattern then
// lexical order.
func Load(fsys fs.FS, patterns ...string) ([]*Scenario, error) {
	var out []*Scenario
	for _, pattern := range patterns {
		names, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			data, err := fs.ReadFile(fsys, name)
			if err != nil {
				return nil, err
			}
			s, err := Parse(name, data)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// Invoker runs one operation by key. *playground.Playground implements it.
type Invoker interface {
	Invoke(ctx context.Context, key string, args map[string]any) (*sdkplay.InvocationResult, error)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index  int                       `json:"index"`
	Step   Step                      `json:"step"`
	Result *sdkplay.InvocationResult `json:"result,omitempty"`
	// Err is the invocation failure, or the lookup failure when the step
	// never ran.
	Err    error `json:"-"`
	Passed bool  `json:"passed"`
}

// Report is the outcome of a scenario run.
type Report struct {
	Name     string        `json:"name"`
	Steps    []StepResult  `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// Passed reports whether every executed step passed.
func (r *Report) Passed() bool {
	for _, s := range r.Steps {
		if !s.Passed {
			return false
		}
	}
	return true
}

// Runner executes scenarios against an Invoker.
type Runner struct {
	invoker Invoker
	logger  *slog.Logger
	// OnStep, when set, is called after each step.
	OnStep func(StepResult)
}

// NewRunner returns a Runner over inv.
func NewRunner(inv Invoker) *Runner {
	return &Runner{invoker: inv}
}

// WithLogger sets the logger. Defaults to slog.Default().
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

func (r *Runner) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

// Run executes s. It stops at the first step that does not behave as
// expected unless s.ContinueOnError is set, and returns an error wrapping
// ErrStepFailed for the first such step. A canceled ctx stops the run
// between steps.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Report, error) {
	start := time.Now()
	report := &Report{Name: s.Name}
	logger := r.log().With(slog.String("scenario", s.Name))
	var firstErr error

	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		sr := StepResult{Index: i, Step: step}
		res, err := r.invoker.Invoke(ctx, step.API, step.Args)
		switch {
		case err != nil:
			sr.Err = err
		default:
			sr.Result = res
			sr.Err = res.Err
			sr.Passed = (res.Err != nil) == step.ExpectError
		}
		report.Steps = append(report.Steps, sr)
		if r.OnStep != nil {
			r.OnStep(sr)
		}

		if sr.Passed {
			logger.DebugContext(ctx, "step passed", slog.Int("step", i), slog.String("api", step.API))
			continue
		}
		failure := stepError(i, step, sr.Err)
		logger.WarnContext(ctx, "step failed", slog.Int("step", i), slog.String("api", step.API), slog.Any("error", failure))
		if firstErr == nil {
			firstErr = failure
		}
		if !s.ContinueOnError {
			break
		}
	}
	report.Duration = time.Since(start)
	return report, firstErr
}

func stepError(i int, step Step, err error) error {
	switch {
	case err == nil:
		return fmt.Errorf("%w: step %d (%s): expected an error", ErrStepFailed, i, step.API)
	default:
		return fmt.Errorf("%w: step %d (%s): %w", ErrStepFailed, i, step.API, err)
	}
}

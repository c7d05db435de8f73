package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/broady/sdkplay/internal/demosdk"
	"github.com/broady/sdkplay/playground"
	"github.com/broady/sdkplay/scenario"
)

type RunCmd struct {
	Files  []string `arg:"" optional:"" type:"existingfile" help:"Scenario files (YAML or JSON). Defaults to the bundled scenarios."`
	JSON   bool     `help:"Print the reports as JSON."`
	Shared bool     `help:"Run every scenario in one session instead of a fresh one each."`
}

func (c *RunCmd) Run(g *Globals) error {
	scenarios, err := c.load()
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return errNoScenarios
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := g.stdout()
	var pg *playground.Playground
	var failed []string
	var reports []*scenario.Report
	for _, s := range scenarios {
		if pg == nil || !c.Shared {
			if pg, err = g.Playground(); err != nil {
				return err
			}
		}
		r := scenario.NewRunner(pg).WithLogger(g.Logger())
		if !c.JSON {
			fmt.Fprintln(w, areaStyle.Render(s.Name))
			r.OnStep = func(sr scenario.StepResult) { printStep(w, sr) }
		}
		report, err := r.Run(ctx, s)
		reports = append(reports, report)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed = append(failed, s.Name)
		}
	}
	if c.JSON {
		if err := writeJSON(w, reports); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d scenarios failed: %v", len(failed), len(scenarios), failed)
	}
	return nil
}

func (c *RunCmd) load() ([]*scenario.Scenario, error) {
	if len(c.Files) == 0 {
		return scenario.Load(demosdk.ScenarioFS(), "*.yaml", "*.json")
	}
	var out []*scenario.Scenario
	for _, name := range c.Files {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		s, err := scenario.Parse(name, data)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func printStep(w io.Writer, sr scenario.StepResult) {
	mark := okStyle.Render("ok  ")
	if !sr.Passed {
		mark = errorStyle.Render("FAIL")
	}
	line := fmt.Sprintf("  %s %2d %s", mark, sr.Index+1, sr.Step.API)
	switch {
	case sr.Err != nil && sr.Step.ExpectError && sr.Passed:
		line += dimStyle.Render("  (expected) " + sr.Err.Error())
	case sr.Err != nil:
		line += "  " + errorStyle.Render(sr.Err.Error())
	case !sr.Passed:
		line += "  " + errorStyle.Render("expected an error")
	case sr.Result != nil && sr.Result.Stored != "":
		line += dimStyle.Render("  -> [[" + sr.Result.Stored + "]]")
	}
	if sr.Result != nil {
		line += dimStyle.Render(fmt.Sprintf("  %s", sr.Result.Duration.Round(time.Microsecond)))
	}
	fmt.Fprintln(w, line)
}

var errNoScenarios = errors.New("no scenarios")

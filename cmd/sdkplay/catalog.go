package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/broady/sdkplay"
)

var (
	areaStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	keyStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type ListCmd struct {
	Area string `arg:"" optional:"" help:"Only list this area."`
	JSON bool   `help:"Print JSON instead of a table."`
}

func (c *ListCmd) Run(g *Globals) error {
	pg, err := g.Playground()
	if err != nil {
		return err
	}
	areas := pg.Catalog.Areas()
	if c.Area != "" {
		if !slices.Contains(areas, c.Area) {
			return fmt.Errorf("unknown area %q (have %s)", c.Area, strings.Join(areas, ", "))
		}
		areas = []string{c.Area}
	}

	w := g.stdout()
	if c.JSON {
		out := make(map[string][]string, len(areas))
		for _, area := range areas {
			for _, d := range pg.Catalog.Area(area) {
				out[area] = append(out[area], d.Name)
			}
		}
		return writeJSON(w, out)
	}
	for _, area := range areas {
		fmt.Fprintln(w, areaStyle.Render(area))
		for _, d := range pg.Catalog.Area(area) {
			fmt.Fprintf(w, "  %-28s %s\n", d.Name, dimStyle.Render(summarize(d)))
		}
	}
	return nil
}

// summarize renders the parameter list and bindings of d on one line.
func summarize(d *sdkplay.APIDescriptor) string {
	params := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		params = append(params, p.Name+" "+string(p.Type))
	}
	s := "(" + strings.Join(params, ", ") + ")"
	if d.ReturnVar != "" {
		s += " -> " + d.ReturnVar
	}
	if d.Instance != "" {
		s += " @" + d.Instance
	}
	return s
}

type DescribeCmd struct {
	API  string `arg:"" help:"Operation key, as area.name."`
	JSON bool   `help:"Print the descriptor as JSON."`
}

func (c *DescribeCmd) Run(g *Globals) error {
	pg, err := g.Playground()
	if err != nil {
		return err
	}
	d, err := pg.Lookup(c.API)
	if err != nil {
		return err
	}
	w := g.stdout()
	if c.JSON {
		return writeJSON(w, d)
	}

	fmt.Fprintln(w, keyStyle.Render(d.Key()))
	if d.Instance != "" {
		fmt.Fprintf(w, "  instance:  %s\n", d.Instance)
	}
	if d.ReturnVar != "" {
		fmt.Fprintf(w, "  stores:    [[%s]]\n", d.ReturnVar)
	}
	if d.ExternalView != "" {
		fmt.Fprintf(w, "  file:      %s\n", d.ExternalView)
	}
	if d.Provides != "" {
		fmt.Fprintf(w, "  provides:  %s\n", d.Provides)
	}
	if d.Releases != "" {
		fmt.Fprintf(w, "  releases:  %s\n", d.Releases)
	}
	if len(d.Params) > 0 {
		fmt.Fprintln(w, "  params:")
		for _, p := range d.Params {
			def := ""
			if p.DefaultValue != nil {
				def = dimStyle.Render(" = " + formatDefault(p.DefaultValue))
			}
			fmt.Fprintf(w, "    %-16s %-8s%s\n", p.Name, p.Type, def)
		}
	}
	if d.BestPractice != "" {
		fmt.Fprintln(w, "  best practice:")
		for _, line := range strings.Split(strings.TrimRight(d.BestPractice, "\n"), "\n") {
			fmt.Fprintln(w, "    "+dimStyle.Render(line))
		}
	}
	return nil
}

func formatDefault(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

type SchemaCmd struct{}

func (c *SchemaCmd) Run(g *Globals) error {
	return writeJSON(g.stdout(), sdkplay.DescriptorSchema())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

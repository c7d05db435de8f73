// Command sdkplay is an interactive playground for the demo SDK.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/broady/sdkplay/playground"
)

type CLI struct {
	Globals

	List     ListCmd     `cmd:"" help:"List the operations in the catalogue."`
	Describe DescribeCmd `cmd:"" help:"Show one operation and its parameters."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of catalogue descriptors."`
	Run      RunCmd      `cmd:"" help:"Run scenario files."`
	Serve    ServeCmd    `cmd:"" help:"Serve the playground over HTTP."`
	TUI      TUICmd      `cmd:"" name:"tui" help:"Start the terminal playground."`
	Version  VersionCmd  `cmd:"" help:"Print version information."`
}

// Globals are the flags shared by every command.
type Globals struct {
	LogLevel        string        `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error" env:"SDKPLAY_LOG_LEVEL"`
	LogFormat       string        `help:"Log format (text, json)." default:"text" enum:"text,json" env:"SDKPLAY_LOG_FORMAT"`
	Latency         time.Duration `help:"Simulated server latency of every SDK call." default:"0s" env:"SDKPLAY_LATENCY"`
	CallbackTimeout time.Duration `help:"Bound on each run of an operator-supplied function (0 for none)." default:"0s" env:"SDKPLAY_CALLBACK_TIMEOUT"`

	out io.Writer
	// log receives diagnostics; the TUI points it away from the terminal.
	log io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

// Logger returns a logger configured from the flags.
func (g *Globals) Logger() *slog.Logger {
	w := g.log
	if w == nil {
		w = os.Stderr
	}
	return newLogger(w, g.LogLevel, g.LogFormat)
}

// Playground returns a fresh demo playground.
func (g *Globals) Playground() (*playground.Playground, error) {
	return playground.NewDemo(playground.DemoOptions{
		Logger:          g.Logger(),
		Latency:         g.Latency,
		CallbackTimeout: g.CallbackTimeout,
	})
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadEnv reads SDKPLAY_ENV_FILE, or .env in the working directory, into the
// environment. A missing file is not an error; variables already set win.
func loadEnv() error {
	name := os.Getenv("SDKPLAY_ENV_FILE")
	if name == "" {
		name = ".env"
	}
	if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", name, err)
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintln(g.stdout(), Version())
	return nil
}

func main() {
	if err := loadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "sdkplay:", err)
		os.Exit(1)
	}
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("sdkplay"),
		kong.Description("Playground for exercising an SDK one operation at a time."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// Command doccat trains, evaluates and serves maximum-entropy document
// categorizers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/crimson-sun/doccat/internal/config"
	"github.com/crimson-sun/doccat/internal/logging"

	// Register store backends.
	_ "github.com/crimson-sun/doccat/internal/store/file"
	_ "github.com/crimson-sun/doccat/internal/store/remote"
	_ "github.com/crimson-sun/doccat/internal/store/sqlite"
)

const usage = `usage: doccat <command> [flags]

commands:
  train      train a model from the corpus and save it to the store
  classify   classify arguments, or stdin line by line
  eval       score a model on a labeled corpus, or cross-validate
  serve      run the HTTP server
  repl       classify interactively
  models     list stored models
  version    print the version

Run "doccat <command> --help" for command flags.
`

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"train":    runTrain,
	"classify": runClassify,
	"eval":     runEval,
	"serve":    runServe,
	"repl":     runREPL,
	"models":   runModels,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]
	switch name {
	case "version", "--version", "-v":
		fmt.Println("doccat", config.Version)
		return
	case "help", "--help", "-h":
		fmt.Print(usage)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "doccat: unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	// A missing .env is normal; real env vars take precedence.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, &app{}, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "doccat %s: %v\n", name, err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set carrying the flags every command accepts.
func newFlagSet(name string, a *app) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&a.configPath, "config", "c", "doccat.yaml", "YAML config file")
	fs.StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	fs.StringVar(&a.modelName, "model", "", "override the model name")
	return fs
}

// setup loads and validates configuration once flags are parsed. Command
// flags are applied through override before validation.
func (a *app) setup(override func(*config.Config)) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.modelName != "" {
		cfg.ModelName = a.modelName
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	a.cfg = cfg
	a.log = logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	return nil
}

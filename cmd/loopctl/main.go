// Command loopctl is a thin wiring demo: it loads a .loop source file,
// builds an engine.Engine from it, wires a minimal in-process state/action
// pair so the decision loop has something to observe and act on, and
// drives it for a fixed number of ticks or a wall-clock duration.
//
// It is deliberately not a simulation harness (an external collaborator
// the spec treats as out of scope): the "plant" below is a few lines of
// bookkeeping, not a model of any real system, and exists only to prove
// the reader/handler/observer wiring works end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jessevdk/go-flags"
	"github.com/k0kubun/pp/v3"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/loopctl/loopctl/ast"
	"github.com/loopctl/loopctl/engine"
	"github.com/loopctl/loopctl/parser"
)

var version = "dev"

type options struct {
	File     string `short:"f" long:"file" description:"loopctl source file to load" value-name:"loop_file" default:"system.loop"`
	Config   string `long:"config" description:"YAML run-config: initial_values, tick_interval_ms, action_threshold, dry_run" value-name:"config_file"`
	Ticks    int    `long:"ticks" description:"number of ticks to run" default:"10"`
	DryRun   bool   `long:"dry-run" description:"score and select but never invoke handlers"`
	Debug    bool   `long:"debug" description:"pretty-print every TickResult"`
	Watch    bool   `long:"watch" description:"re-parse the source file on change and keep the engine's history"`
	LogLevel string `long:"log-level" description:"debug, info, warn or error" value-name:"level" default:"info"`
	Version  bool   `long:"version" description:"show version"`
}

// initSlog configures the default slog handler from opts.LogLevel, falling
// back to LOG_LEVEL in the environment when the flag is left at its
// default so existing deployment scripts that only set the env var keep
// working.
func initSlog(opts options) {
	raw := opts.LogLevel
	if raw == "" || raw == "info" {
		if env, ok := os.LookupEnv("LOG_LEVEL"); ok {
			raw = env
		}
	}

	var level slog.Level
	switch strings.ToLower(raw) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// runConfig is the optional YAML file's shape, grounded on
// database.ParseGeneratorConfig's "YAML file overriding a few named knobs"
// idiom.
type runConfig struct {
	InitialValues      map[string]float64 `yaml:"initial_values"`
	TickIntervalMillis *float64            `yaml:"tick_interval_ms"`
	ActionThreshold    *float64            `yaml:"action_threshold"`
	DryRun             *bool               `yaml:"dry_run"`
}

func parseRunConfig(path string) (runConfig, error) {
	if path == "" {
		return runConfig{}, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return runConfig{}, err
	}
	var cfg runConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return runConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	var opts options
	fp := flags.NewParser(&opts, flags.Default)
	fp.Usage = "[OPTIONS]"
	if _, err := fp.Parse(); err != nil {
		os.Exit(1)
	}

	initSlog(opts)

	if opts.Version {
		fmt.Println(version)
		return
	}

	if err := run(opts); err != nil {
		slog.Error("loopctl", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	rc, err := parseRunConfig(opts.Config)
	if err != nil {
		return err
	}

	eng, sys, err := loadEngine(opts, rc)
	if err != nil {
		return err
	}

	plant := newPlant(sys, rc.InitialValues)
	plant.wire(eng)

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	eng.OnTick(func(r engine.TickResult) {
		if opts.Debug {
			pp.Println(r)
			return
		}
		if interactive {
			fmt.Printf("tick %d: %d violation(s), %d candidate(s), selected=%v executed=%v\n",
				r.Seq, len(r.Violations), r.Candidates, selectedName(r), r.Executed)
		}
	})

	if opts.Watch {
		return watchAndRun(opts, rc, eng)
	}

	for i := 0; i < opts.Ticks; i++ {
		eng.Tick()
	}
	return nil
}

func selectedName(r engine.TickResult) string {
	if r.Selected == nil {
		return "none"
	}
	return r.Selected.Candidate.Action.Name
}

// resolveOverride builds an engine.Override from sys's own tick block,
// with rc and opts taking precedence over any field they set explicitly.
// Used both at startup and on a --watch reload, so a reload resolves the
// same way a fresh run would.
func resolveOverride(sys *ast.System, opts options, rc runConfig) *engine.Override {
	t := sys.EffectiveTick()
	override := &engine.Override{
		TickIntervalMillis: &t.IntervalMillis,
		ActionThreshold:    &t.ActionThreshold,
	}
	if rc.TickIntervalMillis != nil {
		override.TickIntervalMillis = rc.TickIntervalMillis
	}
	if rc.ActionThreshold != nil {
		override.ActionThreshold = rc.ActionThreshold
	}
	dryRun := opts.DryRun
	if rc.DryRun != nil {
		dryRun = *rc.DryRun
	}
	override.DryRun = &dryRun
	return override
}

func loadEngine(opts options, rc runConfig) (*engine.Engine, *ast.System, error) {
	src, err := os.ReadFile(opts.File)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", opts.File, err)
	}

	sys, parseErr, validationErr := parser.ParseAndValidate(string(src))
	if parseErr != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", opts.File, parseErr)
	}
	if validationErr != nil {
		return nil, nil, fmt.Errorf("validating %s: %w", opts.File, validationErr)
	}

	eng, err := engine.New(sys, resolveOverride(sys, opts, rc))
	if err != nil {
		return nil, nil, err
	}
	return eng, sys, nil
}

// watchAndRun re-parses opts.File whenever fsnotify reports a write,
// applying the freshly parsed tick configuration (interval, action
// threshold, dry-run) onto the already-running eng via ApplyOverride while
// keeping its accumulated tick history intact. A reload that fails to
// parse or validate logs a warning and leaves eng running on its prior
// configuration.
func watchAndRun(opts options, rc runConfig, eng *engine.Engine) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(opts.File); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interval := time.Duration(eng.Config().TickIntervalMillis) * time.Millisecond
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				eng.Tick()
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					slog.Info("loopctl: source changed, reloading", "file", opts.File)
					src, err := os.ReadFile(opts.File)
					if err != nil {
						slog.Warn("loopctl: reload failed, keeping prior engine running", "error", err)
						continue
					}
					newSys, parseErr, validationErr := parser.ParseAndValidate(string(src))
					if parseErr != nil {
						slog.Warn("loopctl: reload failed, keeping prior engine running", "error", parseErr)
						continue
					}
					if validationErr != nil {
						slog.Warn("loopctl: reload failed, keeping prior engine running", "error", validationErr)
						continue
					}
					eng.ApplyOverride(resolveOverride(newSys, opts, rc))
					ticker.Reset(time.Duration(eng.Config().TickIntervalMillis) * time.Millisecond)
					slog.Info("loopctl: reload applied", "file", opts.File)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("loopctl: watcher error", "error", werr)
			}
		}
	}()

	<-time.After(time.Duration(opts.Ticks) * time.Duration(eng.Config().TickIntervalMillis) * time.Millisecond)
	cancel()
	return nil
}

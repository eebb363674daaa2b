// Package main runs the z-vertex finder over a file of events or over
// synthetic events, and writes vertices, plots and charts for inspection.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/zvertex/internal/config"
	"github.com/banshee-data/zvertex/internal/fsutil"
	"github.com/banshee-data/zvertex/internal/monitoring"
	"github.com/banshee-data/zvertex/internal/version"
	"github.com/banshee-data/zvertex/internal/vertexfinder"
	"github.com/banshee-data/zvertex/internal/vertexfinder/monitor"
	"github.com/banshee-data/zvertex/internal/vertexfinder/synth"
)

// Config holds the command line configuration.
type Config struct {
	InputFile  string
	Synthetic  int
	ConfigFile string
	Workers    int
	Parallel   int
	PlotsDir   string
	HTMLFile   string
	OutputJSON string
	Listen     string
	Verbose    bool
	Seed       uint64
}

// InputFile is the events file format read by -input.
type InputFile struct {
	Events []InputEvent `json:"events"`
}

// InputEvent is one event of an InputFile.
type InputEvent struct {
	Tracks []vertexfinder.Track `json:"tracks"`
}

// RunOutput is written by -json.
type RunOutput struct {
	RunID    string              `json:"run_id"`
	Version  string              `json:"version"`
	Started  time.Time           `json:"started"`
	Config   vertexfinder.Config `json:"config"`
	Summary  Summary             `json:"summary"`
	Events   []EventOutput       `json:"events"`
	Duration time.Duration       `json:"duration_ns"`
}

// EventOutput is the result of one event.
type EventOutput struct {
	Index  int                  `json:"index"`
	Tracks int                  `json:"tracks"`
	Result *vertexfinder.Result `json:"result"`
}

// Summary aggregates a run.
type Summary struct {
	Events   int `json:"events"`
	Tracks   int `json:"tracks"`
	Selected int `json:"selected"`
	Vertices int `json:"vertices"`
	Noise    int `json:"noise"`
}

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("zvertex %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	monitoring.SetVerbose(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	var server *monitor.WebServer
	serverDone := make(chan error, 1)
	runID := uuid.NewString()
	if cfg.Listen != "" {
		server = monitor.NewWebServer(monitor.WebServerConfig{Address: cfg.Listen, RunID: runID, Metrics: metrics})
		go func() { serverDone <- server.Start(ctx) }()
	}

	out, err := run(ctx, cfg, runID, fsutil.OSFileSystem{}, metrics, server, os.Stdout)
	if err != nil {
		log.Fatalf("zvertex: %v", err)
	}
	log.Printf("run %s: %d events, %d vertices in %v", out.RunID, out.Summary.Events, out.Summary.Vertices, out.Duration)

	if server != nil {
		log.Printf("debug pages at http://%s/debug/zvertex, Ctrl-C to exit", cfg.Listen)
		if err := <-serverDone; err != nil {
			log.Fatalf("zvertex: %v", err)
		}
	}
}

func parseFlags() (Config, bool) {
	var cfg Config
	var showVersion bool

	flag.StringVar(&cfg.InputFile, "input", "", "Events JSON file ({\"events\":[{\"tracks\":[...]}]})")
	flag.IntVar(&cfg.Synthetic, "synthetic", 0, "Generate N synthetic events instead of reading -input")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Tuning JSON file (default "+config.DefaultConfigPath+" when present)")
	flag.IntVar(&cfg.Workers, "workers", 0, "Workers per event (0 = from config)")
	flag.IntVar(&cfg.Parallel, "parallel", 0, "Events processed in parallel (0 = from config)")
	flag.StringVar(&cfg.PlotsDir, "plots", "", "Directory for per-event PNG plots")
	flag.StringVar(&cfg.HTMLFile, "html", "", "HTML chart output file")
	flag.StringVar(&cfg.OutputJSON, "json", "", "Output JSON file")
	flag.StringVar(&cfg.Listen, "listen", "", "Debug HTTP listen address (e.g. localhost:8081)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	flag.Uint64Var(&cfg.Seed, "seed", 1, "Random seed for -synthetic")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Parse()
	return cfg, showVersion
}

// finderConfig resolves the tuning file and the command line overrides.
// Without -config the defaults file is read when the working directory has
// one; otherwise the built-in defaults apply.
func finderConfig(cfg Config) (vertexfinder.Config, error) {
	tuning := config.DefaultTuningConfig()
	path := cfg.ConfigFile
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(path); err != nil {
			return vertexfinder.Config{}, err
		}
		monitoring.Debugf("tuning loaded from %s", path)
	}
	fc := tuning.FinderConfig()
	if cfg.Workers > 0 {
		fc.Workers = cfg.Workers
	}
	if cfg.Parallel > 0 {
		fc.ParallelEvents = cfg.Parallel
	}
	return fc, fc.Validate()
}

func loadEvents(cfg Config, fsys fsutil.FileSystem) ([][]vertexfinder.Track, error) {
	switch {
	case cfg.InputFile != "" && cfg.Synthetic > 0:
		return nil, fmt.Errorf("-input and -synthetic are mutually exclusive")
	case cfg.Synthetic > 0:
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
		return synth.Tracks(synth.Batch(rng, synth.DefaultConfig(), cfg.Synthetic)), nil
	case cfg.InputFile != "":
		data, err := fsys.ReadFile(cfg.InputFile)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		var in InputFile
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("parse input %s: %w", cfg.InputFile, err)
		}
		events := make([][]vertexfinder.Track, len(in.Events))
		for i, ev := range in.Events {
			events[i] = ev.Tracks
		}
		return events, nil
	}
	return nil, fmt.Errorf("either -input or -synthetic is required")
}

func run(ctx context.Context, cfg Config, runID string, fsys fsutil.FileSystem, metrics *monitoring.Metrics, server *monitor.WebServer, stdout io.Writer) (*RunOutput, error) {
	fc, err := finderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	events, err := loadEvents(cfg, fsys)
	if err != nil {
		return nil, err
	}
	finder, err := vertexfinder.NewFinder(fc, vertexfinder.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	out := &RunOutput{RunID: runID, Version: version.Version, Started: time.Now(), Config: fc}
	monitoring.Logf("run %s: %d events, %d workers, %d in parallel", runID, len(events), fc.Workers, fc.ParallelEvents)

	results, err := finder.ProcessBatch(ctx, events)
	if err != nil {
		return nil, err
	}
	out.Duration = time.Since(out.Started)

	out.Events = make([]EventOutput, len(results))
	for i, res := range results {
		out.Events[i] = EventOutput{Index: i, Tracks: len(events[i]), Result: res}
		out.Summary.Events++
		out.Summary.Tracks += len(events[i])
		out.Summary.Selected += res.Selected
		out.Summary.Vertices += len(res.Vertices)
		out.Summary.Noise += res.Noise
		fmt.Fprintf(stdout, "event %4d: %5d tracks, %5d selected, %3d vertices, %4d noise, %v\n",
			i, len(events[i]), res.Selected, len(res.Vertices), res.Noise, res.Duration)
		if server != nil {
			server.Record(i, events[i], res)
		}
	}

	if err := writeOutputs(cfg, fsys, out, events); err != nil {
		return nil, err
	}
	return out, nil
}

func writeOutputs(cfg Config, fsys fsutil.FileSystem, out *RunOutput, events [][]vertexfinder.Track) error {
	if cfg.PlotsDir != "" {
		p := monitor.NewPlotter(fsys, cfg.PlotsDir)
		for _, ev := range out.Events {
			if _, err := p.Plot(fmt.Sprintf("event_%04d", ev.Index), ev.Result, events[ev.Index]); err != nil {
				return fmt.Errorf("plot event %d: %w", ev.Index, err)
			}
		}
		monitoring.Logf("wrote %d plots to %s", len(out.Events), cfg.PlotsDir)
	}

	if cfg.HTMLFile != "" {
		charts := make([]monitor.ChartEvent, len(out.Events))
		for i, ev := range out.Events {
			charts[i] = monitor.ChartEvent{Title: fmt.Sprintf("Event %d", ev.Index), Tracks: events[ev.Index], Result: ev.Result}
		}
		if err := writeFile(fsys, cfg.HTMLFile, func(w io.Writer) error { return monitor.RenderPage(w, charts) }); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
	}

	if cfg.OutputJSON != "" {
		err := writeFile(fsys, cfg.OutputJSON, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		})
		if err != nil {
			return fmt.Errorf("write json: %w", err)
		}
		monitoring.Logf("results exported to: %s", cfg.OutputJSON)
	}
	return nil
}

func writeFile(fsys fsutil.FileSystem, path string, fill func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Command kfsim simulates a constant-velocity target, tracks it with a linear
// Kalman filter and reports the final estimate. Results can optionally be
// stored in SQLite and exported as CSV, a PNG plot or an HTML chart.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/cvkalman/internal/config"
	"github.com/banshee-data/cvkalman/internal/fsutil"
	"github.com/banshee-data/cvkalman/internal/pipeline"
	"github.com/banshee-data/cvkalman/internal/report"
	"github.com/banshee-data/cvkalman/internal/runstore"
	"github.com/banshee-data/cvkalman/internal/units"
	"github.com/banshee-data/cvkalman/internal/version"
)

// Options holds the parsed command line.
type Options struct {
	ConfigPath  string
	DBPath      string
	CSVPath     string
	PlotPath    string
	HTMLPath    string
	SpeedUnits  string
	ShowVersion bool

	// Overrides holds the run parameters given as flags. Only flags that were
	// set on the command line are non-nil.
	Overrides config.RunConfig
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid arguments: %v", err)
	}
	if opts.ShowVersion {
		fmt.Println(version.String("kfsim"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, opts, fsutil.OSFileSystem{})
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	log.Print(summaryLine(res, opts.SpeedUnits))
}

func parseFlags(args []string, errOut io.Writer) (Options, error) {
	var opts Options
	fs := flag.NewFlagSet("kfsim", flag.ContinueOnError)
	fs.SetOutput(errOut)

	fs.StringVar(&opts.ConfigPath, "config", "", "Run configuration file (.json, .yaml or .yml)")
	fs.StringVar(&opts.DBPath, "db", "", "SQLite database to store the run in")
	fs.StringVar(&opts.CSVPath, "csv", "", "Write per-step records as CSV")
	fs.StringVar(&opts.PlotPath, "plot", "", "Save a trajectory plot (format from extension, e.g. .png)")
	fs.StringVar(&opts.HTMLPath, "html", "", "Write an interactive HTML chart")
	fs.StringVar(&opts.SpeedUnits, "units", units.MPS, "Speed units for the summary: "+strings.Join(units.ValidUnits, ", "))
	fs.BoolVar(&opts.ShowVersion, "version", false, "Print version and exit")

	steps := fs.Int("steps", 0, "Number of time steps (overrides config)")
	ts := fs.Float64("ts", 0, "Sample interval in seconds (overrides config)")
	q := fs.Float64("q", 0, "Process noise variance (overrides config)")
	seed := fs.Uint64("seed", 0, "Random seed (overrides config)")
	joseph := fs.Bool("joseph", false, "Use the Joseph form covariance update")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if err := units.Validate(opts.SpeedUnits); err != nil {
		return Options{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "steps":
			opts.Overrides.Steps = steps
		case "ts":
			opts.Overrides.SampleInterval = ts
		case "q":
			opts.Overrides.ProcessNoiseVariance = q
		case "seed":
			opts.Overrides.Seed = seed
		case "joseph":
			form := config.CovarianceFormStandard
			if *joseph {
				form = config.CovarianceFormJoseph
			}
			opts.Overrides.CovarianceForm = &form
		}
	})
	return opts, nil
}

// loadConfig resolves the effective configuration: defaults, then the file,
// then flag overrides.
func loadConfig(opts Options) (*config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if opts.ConfigPath != "" {
		fileCfg, err := config.LoadRunConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = cfg.Merge(fileCfg)
	}
	cfg = cfg.Merge(&opts.Overrides)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run executes the configured run and writes the requested outputs. Report
// files go through fsys; the SQLite store always uses the real filesystem.
func run(ctx context.Context, opts Options, fsys fsutil.FileSystem) (*pipeline.Result, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	res, err := (&pipeline.Runner{}).Run(ctx, cfg)
	if err != nil {
		return res, err
	}

	if opts.DBPath != "" {
		if err := saveToDB(ctx, opts.DBPath, cfg, res); err != nil {
			return res, err
		}
		log.Printf("Run %s stored in %s", res.RunID, opts.DBPath)
	}
	if opts.CSVPath != "" {
		err := fsutil.WriteFile(fsys, opts.CSVPath, func(w io.Writer) error {
			return report.WriteCSV(w, res.Records)
		})
		if err != nil {
			return res, err
		}
	}
	if opts.PlotPath != "" {
		if err := report.SavePlot(fsys, opts.PlotPath, res.Records); err != nil {
			return res, err
		}
	}
	if opts.HTMLPath != "" {
		err := fsutil.WriteFile(fsys, opts.HTMLPath, func(w io.Writer) error {
			return report.RenderChart(w, res.Records)
		})
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func saveToDB(ctx context.Context, path string, cfg *config.RunConfig, res *pipeline.Result) error {
	store, err := runstore.Open(path)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()

	if err := store.MigrateUp(); err != nil {
		return err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return store.SaveRun(ctx, res, cfgJSON)
}

// summaryLine formats the final estimate. State velocities are read as m/s
// (positions in metres, Ts in seconds) before conversion to speedUnits.
func summaryLine(res *pipeline.Result, speedUnits string) string {
	var x []float64
	var speed float64
	if res.Final.State != nil {
		x = res.Final.State.RawVector().Data
		if len(x) >= 4 {
			speed = units.Speed(x[2], x[3], speedUnits)
		}
	}
	var pos [2]float64
	if p := res.Final.Covariance; p != nil {
		pos = [2]float64{p.At(0, 0), p.At(1, 1)}
	}
	s := res.Summary
	return fmt.Sprintf(
		"run %s: steps=%d skipped=%d final x=%.4g speed=%.3g %s var(px,py)=%.3g rmse(pos)=%.3g rmse(vel)=%.3g nees=%.3g nis=%.3g (consistent nees=%t nis=%t) in %s",
		res.RunID, len(res.Records), res.Skipped, x, speed, units.Label(speedUnits), pos,
		s.PositionRMSE, s.VelocityRMSE, s.MeanNEES, s.MeanNIS,
		s.NEESConsistent(), s.NISConsistent(), res.Elapsed)
}


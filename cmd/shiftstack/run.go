package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/shiftstack/internal/config"
	"github.com/banshee-data/shiftstack/internal/filtering"
	"github.com/banshee-data/shiftstack/internal/imagestack"
	"github.com/banshee-data/shiftstack/internal/monitoring"
	"github.com/banshee-data/shiftstack/internal/report"
	"github.com/banshee-data/shiftstack/internal/search"
	"github.com/banshee-data/shiftstack/internal/security"
	"github.com/banshee-data/shiftstack/internal/storage/sqlite"
	"github.com/banshee-data/shiftstack/internal/trajectory"
	"github.com/banshee-data/shiftstack/internal/version"
)

const (
	modeGrid   = "grid"
	modeRegion = "region"
)

type options struct {
	configPath string
	mode       string
	angles     string
	velocities string

	width, height, images int
	dt, noise, variance   float64
	seed                  uint64
	objects               objectList

	dbPath        string
	outDir        string
	top           int
	curves        int
	stampRadius   int
	coadd         string
	metricsListen string
	debug         bool
}

func defaultOptions() *options {
	return &options{
		mode:        modeGrid,
		width:       64,
		height:      64,
		images:      10,
		dt:          1,
		noise:       1,
		variance:    1,
		seed:        1,
		top:         10,
		curves:      3,
		stampRadius: 5,
		coadd:       "mean",
	}
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", o.configPath, "Search config JSON (defaults to built-in values)")
	fs.StringVar(&o.mode, "mode", o.mode, "Search mode: 'grid' or 'region'")
	fs.StringVar(&o.angles, "angles", o.angles, "Angle grid override as min:max:steps (radians)")
	fs.StringVar(&o.velocities, "velocities", o.velocities, "Speed grid override as min:max:steps (pixels per time unit)")
	fs.IntVar(&o.width, "width", o.width, "Synthetic image width")
	fs.IntVar(&o.height, "height", o.height, "Synthetic image height")
	fs.IntVar(&o.images, "images", o.images, "Number of synthetic exposures")
	fs.Float64Var(&o.dt, "dt", o.dt, "Time between exposures")
	fs.Float64Var(&o.noise, "noise", o.noise, "Standard deviation of the synthetic noise")
	fs.Float64Var(&o.variance, "variance", o.variance, "Variance written into every pixel")
	fs.Uint64Var(&o.seed, "seed", o.seed, "Noise seed")
	fs.Var(&o.objects, "object", "Inject a moving object as x,y,vx,vy,flux (repeatable)")
	fs.StringVar(&o.dbPath, "db", o.dbPath, "SQLite database to record the run in")
	fs.StringVar(&o.outDir, "out", o.outDir, "Directory for HTML and PNG reports")
	fs.IntVar(&o.top, "top", o.top, "Number of results to print and keep (0 for all)")
	fs.IntVar(&o.curves, "curves", o.curves, "Number of top results whose light curves are stored and plotted")
	fs.IntVar(&o.stampRadius, "stamp-radius", o.stampRadius, "Half-width of the coadded stamps rendered for top results (0 disables)")
	fs.StringVar(&o.coadd, "coadd", o.coadd, "Stamp coadd mode: 'sum', 'mean' or 'median'")
	fs.StringVar(&o.metricsListen, "metrics-listen", o.metricsListen, "Address to serve Prometheus metrics on, e.g. :9090")
	fs.BoolVar(&o.debug, "debug", o.debug, "Log search diagnostics")
}

// objectList collects repeated -object flags.
type objectList []imagestack.MovingObject

func (l *objectList) String() string {
	parts := make([]string, len(*l))
	for i, o := range *l {
		parts[i] = fmt.Sprintf("%d,%d,%g,%g,%g", o.X, o.Y, o.VX, o.VY, o.Flux)
	}
	return strings.Join(parts, " ")
}

func (l *objectList) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 5 {
		return fmt.Errorf("invalid object %q: expected x,y,vx,vy,flux", s)
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("invalid object value %q: %w", p, err)
		}
		vals[i] = v
	}
	if vals[0] != float64(int(vals[0])) || vals[1] != float64(int(vals[1])) {
		return fmt.Errorf("object origin must be whole pixels, got %g,%g", vals[0], vals[1])
	}
	*l = append(*l, imagestack.MovingObject{
		X: int(vals[0]), Y: int(vals[1]), VX: vals[2], VY: vals[3], Flux: float32(vals[4]),
	})
	return nil
}

type summary struct {
	runID    string
	results  int
	complete bool
}

// run generates the stack, searches it and hands the ranked results to the
// printer, the store and the report writer. A search cut short by ctx still
// reports its partial results and returns the context error.
func run(ctx context.Context, o *options, cfg *config.SearchConfig, w io.Writer) (summary, error) {
	sum := summary{runID: uuid.New().String()}
	if o.mode != modeGrid && o.mode != modeRegion {
		return sum, fmt.Errorf("unknown mode %q", o.mode)
	}

	stack, err := imagestack.Synthetic{
		Width:    o.width,
		Height:   o.height,
		Count:    o.images,
		Dt:       o.dt,
		Noise:    o.noise,
		Variance: float32(o.variance),
		Seed:     o.seed,
		Objects:  o.objects,
	}.Generate()
	if err != nil {
		return sum, fmt.Errorf("generating stack: %w", err)
	}
	layers := imagestack.PsiPhi(stack)

	strategy, err := cfg.Strategy()
	if err != nil {
		return sum, err
	}
	ev, err := cfg.NewEvaluator()
	if err != nil {
		return sum, err
	}

	started := time.Now()
	var results []trajectory.Trajectory
	var searchErr error
	switch o.mode {
	case modeGrid:
		gs, err := search.NewGridSearch(layers, strategy, ev)
		if err != nil {
			return sum, err
		}
		searchErr = gs.Search(ctx, cfg.GridParams())
		if searchErr != nil && ctx.Err() == nil {
			return sum, searchErr
		}
		gs.FilterResults(cfg.GetMinObservations())
		gs.SortResults()
		end := gs.Len()
		if o.top > 0 {
			end = o.top
		}
		results, sum.complete = gs.Results(0, end), gs.Complete()
	case modeRegion:
		eng, err := search.NewRegionEngine(layers, ev)
		if err != nil {
			return sum, err
		}
		var rescore filtering.Strategy
		if strategy.Name() != filtering.StrategyNone {
			rescore = strategy
		}
		res, err := eng.ResSearch(ctx, search.CreateSearchList(cfg.GridParams()), cfg.RegionParams(), rescore)
		if res == nil {
			return sum, err
		}
		if err != nil && ctx.Err() == nil {
			return sum, err
		}
		searchErr = err
		results, sum.complete = res.Trajectories, res.Complete
		if o.top > 0 && len(results) > o.top {
			results = results[:o.top]
		}
	}
	sum.results = len(results)
	monitoring.Logf("%s search finished in %s: %d results, complete=%t", o.mode, time.Since(started).Round(time.Millisecond), len(results), sum.complete)

	fmt.Fprintf(w, "run %s (%s, %s filter, %s evaluator)\n", sum.runID, o.mode, strategy.Name(), ev.Name())
	for i, tr := range results {
		fmt.Fprintf(w, "%4d %s\n", i, tr)
	}

	topCurves := results[:max(0, min(o.curves, len(results)))]
	if o.dbPath != "" {
		if err := persist(o, cfg, sum, started, layers, strategy, ev.Name(), results, topCurves); err != nil {
			return sum, err
		}
	}
	if o.outDir != "" {
		if err := render(o, sum.runID, stack, layers, strategy, results, topCurves); err != nil {
			return sum, err
		}
	}
	return sum, searchErr
}

func persist(o *options, cfg *config.SearchConfig, sum summary, started time.Time,
	layers *imagestack.PsiPhiStack, strategy filtering.Strategy, evaluator string,
	results, topCurves []trajectory.Trajectory) error {
	store, err := sqlite.Open(o.dbPath)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	defer store.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	w, h := layers.Bounds()
	runRec := &sqlite.Run{
		ID:        sum.runID,
		Mode:      o.mode,
		Filter:    strategy.Name(),
		Evaluator: evaluator,
		Version:   version.Version,
		Config:    cfgJSON,
		Width:     w,
		Height:    h,
		Images:    layers.Len(),
		StartedAt: started,
	}
	if err := store.InsertRun(runRec); err != nil {
		return err
	}
	if err := store.InsertTrajectories(sum.runID, results); err != nil {
		return err
	}
	for rank, tr := range topCurves {
		c := search.ExtractCurve(layers, tr)
		res, err := strategy.Filter(c)
		if err != nil {
			return fmt.Errorf("filtering curve %d: %w", rank, err)
		}
		if err := store.InsertCurve(sum.runID, rank, c, res.Retained); err != nil {
			return err
		}
	}
	return store.FinishRun(sum.runID, sum.complete, len(results), time.Now())
}

func render(o *options, runID string, stack *imagestack.ImageStack, layers *imagestack.PsiPhiStack,
	strategy filtering.Strategy, results, topCurves []trajectory.Trajectory) error {
	if len(results) == 0 {
		monitoring.Logf("no results to render for run %s", runID)
		return nil
	}
	dir, err := security.NewOutputDir(o.outDir)
	if err != nil {
		return err
	}

	f, err := dir.Create(runID, "results.html")
	if err != nil {
		return err
	}
	w, h := layers.Bounds()
	err = report.ResultsPage{Title: runID, Width: w, Height: h, Results: results}.Render(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	times := layers.Times()
	for rank, tr := range topCurves {
		c := search.ExtractCurve(layers, tr)
		res, err := strategy.Filter(c)
		if err != nil {
			return fmt.Errorf("filtering curve %d: %w", rank, err)
		}
		f, err := dir.Create(runID, fmt.Sprintf("curve_%02d.png", rank))
		if err != nil {
			return err
		}
		_, err = report.CurvePlot{Title: tr.String(), Times: times, Curve: c, Result: res}.WriteTo(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil && err != report.ErrNoPoints {
			return fmt.Errorf("plotting curve %d: %w", rank, err)
		}

		if o.stampRadius > 0 {
			if err := writeStamp(dir, runID, stack, tr, rank, o.stampRadius, o.coadd, res.Retained); err != nil {
				return err
			}
		}
	}
	monitoring.Logf("wrote reports for run %s to %s", runID, dir.Root())
	return nil
}

// writeStamp coadds the stamps of the retained steps around tr.
func writeStamp(dir *security.OutputDir, runID string, stack *imagestack.ImageStack, tr trajectory.Trajectory,
	rank, radius int, coadd string, retained []int) error {
	mode, err := imagestack.ParseCoaddMode(coadd)
	if err != nil {
		return err
	}
	use := make([]bool, stack.Len())
	for _, i := range retained {
		use[i] = true
	}
	stamp, err := imagestack.CoaddStamp(stack, tr, radius, mode, use)
	if err != nil {
		return fmt.Errorf("coadding stamp %d: %w", rank, err)
	}

	f, err := dir.Create(runID, fmt.Sprintf("stamp_%02d.png", rank))
	if err != nil {
		return err
	}
	_, err = report.StampPlot{Title: fmt.Sprintf("%s coadd, rank %d", coadd, rank), Stamp: stamp}.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("plotting stamp %d: %w", rank, err)
	}
	return nil
}

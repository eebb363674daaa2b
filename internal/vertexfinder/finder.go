package vertexfinder

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/zvertex/internal/monitoring"
	"github.com/banshee-data/zvertex/internal/timeutil"
	"github.com/banshee-data/zvertex/internal/workdiv"
)

// NoVertex marks an input track that is not attached to any vertex, either
// because it failed selection or because clustering or the fit left it
// unassigned.
const NoVertex int32 = -1

// Track selection defaults.
const (
	DefaultPtMin = 0.5
	DefaultPtMax = 75.0
)

// Config configures a Finder.
type Config struct {
	Clustering Params
	PtMin      float32
	PtMax      float32
	FitChi2Max float32

	// Workers is the team size used for each event.
	Workers int
	// ParallelEvents is the number of events processed at the same time by
	// ProcessBatch, each on its own team.
	ParallelEvents int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Clustering:     DefaultParams(),
		PtMin:          DefaultPtMin,
		PtMax:          DefaultPtMax,
		FitChi2Max:     DefaultFitChi2Max,
		Workers:        min(runtime.NumCPU(), 32),
		ParallelEvents: 1,
	}
}

// Validate checks cfg and its clustering parameters.
func (cfg Config) Validate() error {
	if err := cfg.Clustering.Validate(); err != nil {
		return err
	}
	if cfg.PtMin < 0 || cfg.PtMax < cfg.PtMin {
		return fmt.Errorf("pt range [%g, %g] is invalid", cfg.PtMin, cfg.PtMax)
	}
	if !(cfg.FitChi2Max > 0) {
		return fmt.Errorf("fit_chi2_max must be positive, got %g", cfg.FitChi2Max)
	}
	if cfg.Workers < 1 || cfg.Workers > workdiv.MaxTeamSize {
		return fmt.Errorf("workers must be in [1, %d], got %d", workdiv.MaxTeamSize, cfg.Workers)
	}
	if cfg.ParallelEvents < 1 {
		return fmt.Errorf("parallel_events must be at least 1, got %d", cfg.ParallelEvents)
	}
	return nil
}

// Vertex is one fitted vertex of a Result.
type Vertex struct {
	ID      int     `json:"id"`      // rank in the Result, by pt^2
	Cluster int     `json:"cluster"` // raw id assigned by the clustering kernel
	Z       float64 `json:"z"`
	W       float64 `json:"w"`
	Chi2    float64 `json:"chi2"`
	Ndof    int     `json:"ndof"`
	Pt2     float64 `json:"pt2"`
	Tracks  []int   `json:"tracks"` // input track indices, ascending
}

// Result is the outcome of processing one event.
type Result struct {
	Vertices []Vertex `json:"vertices"`
	// Assignments holds, per input track, the ID of its vertex or NoVertex.
	Assignments []int32 `json:"assignments"`

	Selected int           `json:"selected"` // tracks passing selection
	Clusters int           `json:"clusters"` // clusters found before the fit
	Noise    int           `json:"noise"`    // selected tracks left without a vertex
	Duration time.Duration `json:"duration_ns"`
}

// AbortError reports that a kernel hit a fatal assertion while processing
// an event. Nothing of that event's output is usable.
type AbortError struct {
	Value any
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("vertex finding aborted: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error, typically a
// *workdiv.AssertionError.
func (e *AbortError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// block is the scratch needed to process one event on one team.
type block struct {
	team    *workdiv.Team
	data    *ZVertexSoA
	ws      *WorkSpace
	load    *LoadTracks
	cluster *ClusterTracksDBSCAN
	fit     *FitVertices
}

func newBlock(workers int) *block {
	return &block{
		team:    workdiv.NewTeam(workers),
		data:    NewZVertexSoA(),
		ws:      NewWorkSpace(),
		load:    NewLoadTracks(),
		cluster: NewClusterTracksDBSCAN(),
		fit:     NewFitVertices(),
	}
}

func (b *block) run(tracks []Track, cfg Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &AbortError{Value: r}
		}
	}()
	b.team.Run(func(acc *workdiv.Acc) {
		b.load.Run(acc, tracks, b.ws, cfg.PtMin, cfg.PtMax)
		b.cluster.Run(acc, b.data, b.ws, cfg.Clustering)
		b.fit.Run(acc, b.data, b.ws, cfg.FitChi2Max)
		SortByPt2(acc, b.data)
	})
	return nil
}

func (b *block) result(nInput int) *Result {
	ws, data := b.ws, b.data
	nt := int(ws.Ntrks)
	nv := int(data.NvFinal)

	res := &Result{
		Assignments: make([]int32, nInput),
		Selected:    nt,
		Clusters:    nv,
	}
	for i := range res.Assignments {
		res.Assignments[i] = NoVertex
	}

	members := make([][]int, nv)
	for k := 0; k < nt; k++ {
		id := ws.Iv[k]
		if id > NoiseThreshold {
			res.Noise++
			continue
		}
		members[id] = append(members[id], int(ws.Itrk[k]))
	}

	res.Vertices = make([]Vertex, 0, nv)
	for _, v := range data.SortInd[:nv] {
		if len(members[v]) == 0 {
			continue
		}
		rank := len(res.Vertices)
		for _, in := range members[v] {
			res.Assignments[in] = int32(rank)
		}
		res.Vertices = append(res.Vertices, Vertex{
			ID:      rank,
			Cluster: int(v),
			Z:       float64(data.Zv[v]),
			W:       float64(data.Wv[v]),
			Chi2:    float64(data.Chi2[v]),
			Ndof:    int(data.Ndof[v]),
			Pt2:     float64(data.Ptv2[v]),
			Tracks:  members[v],
		})
	}
	return res
}

// Finder runs track selection, DBSCAN clustering, the vertex fit and the
// pt^2 sort on events. It is safe for concurrent use; at most
// ParallelEvents events are processed at the same time.
type Finder struct {
	cfg     Config
	blocks  chan *block
	metrics *monitoring.Metrics
	clock   timeutil.Clock
}

// Option customises a Finder.
type Option func(*Finder)

// WithMetrics records per-event metrics on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(f *Finder) { f.metrics = m }
}

// WithClock replaces the clock used to time events.
func WithClock(c timeutil.Clock) Option {
	return func(f *Finder) { f.clock = c }
}

// NewFinder validates cfg and allocates one block per parallel event.
func NewFinder(cfg Config, opts ...Option) (*Finder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid finder config: %w", err)
	}
	f := &Finder{
		cfg:    cfg,
		blocks: make(chan *block, cfg.ParallelEvents),
		clock:  timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(f)
	}
	for i := 0; i < cfg.ParallelEvents; i++ {
		f.blocks <- newBlock(cfg.Workers)
	}
	return f, nil
}

// Config returns the configuration the Finder was built with.
func (f *Finder) Config() Config {
	return f.cfg
}

// ProcessEvent finds the vertices of one event. Invalid input is reported
// as an error wrapping ErrInvalidTrack; a fatal kernel assertion as an
// *AbortError.
func (f *Finder) ProcessEvent(ctx context.Context, tracks []Track) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateTracks(tracks); err != nil {
		f.metrics.ObserveFailure("invalid")
		return nil, err
	}

	var b *block
	select {
	case b = <-f.blocks:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { f.blocks <- b }()

	start := f.clock.Now()
	if err := b.run(tracks, f.cfg); err != nil {
		f.metrics.ObserveFailure("aborted")
		monitoring.Logf("vertexfinder: %v", err)
		return nil, err
	}
	res := b.result(len(tracks))
	res.Duration = f.clock.Since(start)

	f.metrics.ObserveEvent(len(tracks), res.Selected, res.Noise, len(res.Vertices), res.Duration)
	monitoring.Debugf("vertexfinder: %d/%d tracks selected, %d clusters, %d vertices, %d noise in %v",
		res.Selected, len(tracks), res.Clusters, len(res.Vertices), res.Noise, res.Duration)
	return res, nil
}

// ProcessBatch processes independent events concurrently and returns their
// results in input order. The first failing event cancels the rest.
func (f *Finder) ProcessBatch(ctx context.Context, events [][]Track) ([]*Result, error) {
	results := make([]*Result, len(events))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.ParallelEvents)
	for i, tracks := range events {
		g.Go(func() error {
			res, err := f.ProcessEvent(ctx, tracks)
			if err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

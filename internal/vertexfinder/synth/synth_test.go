package synth

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/zvertex/internal/vertexfinder"
)

func TestGenerate_Shape(t *testing.T) {
	cfg := DefaultConfig()
	ev := Generate(rand.New(rand.NewPCG(1, 1)), cfg)

	want := cfg.Vertices*cfg.TracksPerVertex + cfg.NoiseTracks
	if len(ev.Tracks) != want {
		t.Fatalf("got %d tracks, want %d", len(ev.Tracks), want)
	}
	if len(ev.Truth) != len(ev.Tracks) {
		t.Fatalf("truth has %d entries for %d tracks", len(ev.Truth), len(ev.Tracks))
	}

	perVertex := make([]int, cfg.Vertices)
	noise := 0
	for _, v := range ev.Truth {
		if v < 0 {
			noise++
			continue
		}
		perVertex[v]++
	}
	if noise != cfg.NoiseTracks {
		t.Errorf("got %d noise tracks, want %d", noise, cfg.NoiseTracks)
	}
	for v, n := range perVertex {
		if n != cfg.TracksPerVertex {
			t.Errorf("vertex %d has %d tracks, want %d", v, n, cfg.TracksPerVertex)
		}
	}

	if err := vertexfinder.ValidateTracks(ev.Tracks); err != nil {
		t.Errorf("generated tracks fail validation: %v", err)
	}
}

func TestGenerateAt_TracksNearTheirVertex(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoiseTracks = 0
	ev := GenerateAt(rand.New(rand.NewPCG(2, 3)), cfg, []float64{-1, 0, 4})

	for i, tr := range ev.Tracks {
		sigma := math.Sqrt(float64(tr.EZ2))
		if sigma < cfg.SigmaMin-1e-9 || sigma > cfg.SigmaMax+1e-9 {
			t.Fatalf("track %d: sigma %g outside [%g, %g]", i, sigma, cfg.SigmaMin, cfg.SigmaMax)
		}
		d := math.Abs(float64(tr.Z) - ev.VertexZ[ev.Truth[i]])
		if d > 6*sigma {
			t.Errorf("track %d is %.1f sigma from its vertex", i, d/sigma)
		}
		if tr.Pt < float32(cfg.PtMin) {
			t.Errorf("track %d: pt %g below %g", i, tr.Pt, cfg.PtMin)
		}
	}
}

func TestGenerate_Reproducible(t *testing.T) {
	a := Batch(rand.New(rand.NewPCG(9, 9)), DefaultConfig(), 3)
	b := Batch(rand.New(rand.NewPCG(9, 9)), DefaultConfig(), 3)
	if diff := cmp.Diff(Tracks(a), Tracks(b)); diff != "" {
		t.Errorf("same seed gave different events (-a +b):\n%s", diff)
	}
}

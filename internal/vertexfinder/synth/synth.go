// Package synth generates synthetic events for exercising the vertex
// finder: a handful of vertices spread along the beam line, each with
// tracks smeared by their own z resolution, plus uniform noise tracks.
package synth

import (
	"math/rand/v2"

	"github.com/banshee-data/zvertex/internal/vertexfinder"
)

// Config describes the event topology.
type Config struct {
	Vertices        int
	TracksPerVertex int
	NoiseTracks     int

	ZSpread       float64 // sigma of the vertex z distribution
	NoiseZRange   float64 // noise tracks are uniform in [-NoiseZRange, NoiseZRange]
	SigmaMin      float64 // per-track z resolution range
	SigmaMax      float64
	BadFraction   float64 // fraction of tracks flagged below loose quality
	PtMin, PtMean float64
}

// DefaultConfig returns a moderately busy event.
func DefaultConfig() Config {
	return Config{
		Vertices:        20,
		TracksPerVertex: 25,
		NoiseTracks:     40,
		ZSpread:         3.5,
		NoiseZRange:     15,
		SigmaMin:        0.002,
		SigmaMax:        0.008,
		BadFraction:     0.05,
		PtMin:           0.5,
		PtMean:          1.5,
	}
}

// Event is a generated event with its truth.
type Event struct {
	Tracks []vertexfinder.Track
	// Truth holds the generating vertex of each track, -1 for noise.
	Truth   []int
	VertexZ []float64
}

// Generate draws one event from rng.
func Generate(rng *rand.Rand, cfg Config) Event {
	vertexZ := make([]float64, cfg.Vertices)
	for v := range vertexZ {
		vertexZ[v] = rng.NormFloat64() * cfg.ZSpread
	}
	return GenerateAt(rng, cfg, vertexZ)
}

// GenerateAt draws one event with vertices at the given z positions;
// cfg.Vertices and cfg.ZSpread are ignored.
func GenerateAt(rng *rand.Rand, cfg Config, vertexZ []float64) Event {
	ev := Event{VertexZ: vertexZ}

	add := func(z, sigma float64, truth int) {
		q := vertexfinder.QualityHighPurity
		if rng.Float64() < cfg.BadFraction {
			q = vertexfinder.QualityDup
		}
		ev.Tracks = append(ev.Tracks, vertexfinder.Track{
			Z:       float32(z),
			EZ2:     float32(sigma * sigma),
			Pt:      float32(cfg.PtMin + rng.ExpFloat64()*cfg.PtMean),
			NHits:   vertexfinder.MinHits + rng.IntN(3),
			Quality: q,
		})
		ev.Truth = append(ev.Truth, truth)
	}

	for v, vz := range ev.VertexZ {
		for range cfg.TracksPerVertex {
			sigma := cfg.SigmaMin + rng.Float64()*(cfg.SigmaMax-cfg.SigmaMin)
			add(vz+rng.NormFloat64()*sigma, sigma, v)
		}
	}
	for range cfg.NoiseTracks {
		sigma := cfg.SigmaMin + rng.Float64()*(cfg.SigmaMax-cfg.SigmaMin)
		add((2*rng.Float64()-1)*cfg.NoiseZRange, sigma, -1)
	}

	// interleave vertices and noise as a real track collection would be
	rng.Shuffle(len(ev.Tracks), func(i, j int) {
		ev.Tracks[i], ev.Tracks[j] = ev.Tracks[j], ev.Tracks[i]
		ev.Truth[i], ev.Truth[j] = ev.Truth[j], ev.Truth[i]
	})
	return ev
}

// Batch draws n events.
func Batch(rng *rand.Rand, cfg Config, n int) []Event {
	events := make([]Event, n)
	for i := range events {
		events[i] = Generate(rng, cfg)
	}
	return events
}

// Tracks returns the track lists of events.
func Tracks(events []Event) [][]vertexfinder.Track {
	out := make([][]vertexfinder.Track, len(events))
	for i, ev := range events {
		out[i] = ev.Tracks
	}
	return out
}

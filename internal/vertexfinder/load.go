package vertexfinder

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/zvertex/internal/workdiv"
)

// Quality is the track-fit quality flag assigned upstream.
type Quality uint8

const (
	QualityBad Quality = iota
	QualityEdup
	QualityDup
	QualityLoose
	QualityStrict
	QualityTight
	QualityHighPurity
)

var qualityNames = [...]string{"bad", "edup", "dup", "loose", "strict", "tight", "highPurity"}

func (q Quality) String() string {
	if int(q) < len(qualityNames) {
		return qualityNames[q]
	}
	return fmt.Sprintf("Quality(%d)", uint8(q))
}

// MarshalText implements encoding.TextMarshaler.
func (q Quality) MarshalText() ([]byte, error) {
	if int(q) >= len(qualityNames) {
		return nil, fmt.Errorf("invalid quality %d", uint8(q))
	}
	return []byte(qualityNames[q]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(b []byte) error {
	for i, name := range qualityNames {
		if string(b) == name {
			*q = Quality(i)
			return nil
		}
	}
	return fmt.Errorf("unknown track quality %q", b)
}

// MinHits is the minimum number of hits for a track to enter vertexing.
const MinHits = 4

// Track is one reconstructed track as delivered by the upstream selection.
type Track struct {
	Z       float32 `json:"z"`   // longitudinal impact point
	EZ2     float32 `json:"ez2"` // variance of Z
	Pt      float32 `json:"pt"`
	NHits   int     `json:"n_hits"`
	Quality Quality `json:"quality"`
}

// ErrInvalidTrack is wrapped by ValidateTracks.
var ErrInvalidTrack = errors.New("invalid track")

// ValidateTracks rejects numeric input the kernels cannot handle: non-finite
// z or pt, and variance that is not a positive finite number.
func ValidateTracks(tracks []Track) error {
	for i, t := range tracks {
		switch {
		case !finite(t.Z):
			return fmt.Errorf("%w %d: z is %v", ErrInvalidTrack, i, t.Z)
		case !finite(t.EZ2) || t.EZ2 <= 0:
			return fmt.Errorf("%w %d: variance is %v", ErrInvalidTrack, i, t.EZ2)
		case !finite(t.Pt):
			return fmt.Errorf("%w %d: pt is %v", ErrInvalidTrack, i, t.Pt)
		}
	}
	return nil
}

func finite(x float32) bool {
	return !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0)
}

// LoadTracks selects the tracks usable for vertexing and fills ws.
//
// A track is selected if it has at least MinHits hits, at least loose
// quality, and pt >= ptMin; its pt^2 is capped at ptMax^2. Selected tracks
// keep their input order, independent of the team size.
type LoadTracks struct {
	counts []int
	scanWs []int
}

// NewLoadTracks allocates the per-worker scratch.
func NewLoadTracks() *LoadTracks {
	return &LoadTracks{
		counts: make([]int, workdiv.MaxTeamSize),
		scanWs: make([]int, workdiv.MaxTeamSize),
	}
}

// Run is the kernel body. It ends with a Sync.
func (k *LoadTracks) Run(acc *workdiv.Acc, tracks []Track, ws *WorkSpace, ptMin, ptMax float32) {
	selected := func(t *Track) bool {
		return t.NHits >= MinHits && t.Quality >= QualityLoose && t.Pt >= ptMin
	}

	n := 0
	for i := range acc.ChunkElements(len(tracks)) {
		if selected(&tracks[i]) {
			n++
		}
	}
	k.counts[acc.Index()] = n
	acc.Sync()

	// inclusive scan: this worker's chunk ends at counts[Index()]
	counts := k.counts[:acc.Size()]
	workdiv.BlockPrefixScan(acc, counts, k.scanWs)
	offset := counts[acc.Index()] - n
	total := counts[len(counts)-1]
	workdiv.Assert(total <= MaxTracks, "%d selected tracks exceed MaxTracks %d", total, MaxTracks)

	ptMax2 := ptMax * ptMax
	out := offset
	for i := range acc.ChunkElements(len(tracks)) {
		t := &tracks[i]
		if !selected(t) {
			continue
		}
		ws.Itrk[out] = uint32(i)
		ws.Zt[out] = t.Z
		ws.Ezt2[out] = t.EZ2
		ws.Ptt2[out] = min(t.Pt*t.Pt, ptMax2)
		out++
	}
	if acc.OncePerBlock() {
		ws.Ntrks = uint32(total)
	}
	acc.Sync()
}

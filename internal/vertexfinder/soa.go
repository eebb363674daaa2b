package vertexfinder

// Capacity limits shared by every stage of the vertex finder. Inputs are
// expected to be pre-sized so that these are never exceeded; exceeding one
// is a fatal assertion rather than a returned error.
const (
	// MaxTracks bounds the number of selected tracks per event.
	MaxTracks = 32 * 1024
	// MaxVertices bounds the number of clusters per event.
	MaxVertices = 1024
	// HistCapacity bounds the number of tracks the z-bucket index can hold.
	// The clustering kernel runs in a single team, which is adequate for the
	// few thousand tracks of one event but does not scale beyond this.
	HistCapacity = 16000
)

// Track-to-vertex sentinels. After clustering, any iv value above
// NoiseThreshold marks a track with no vertex.
const (
	NoiseThreshold int32 = 9990
	// NoiseID is assigned to tracks never reached by a core track.
	NoiseID int32 = 9997
	// OutlierID is assigned by FitVertices to tracks rejected by the fit.
	OutlierID int32 = 9999

	// noiseRoot is the pre-flip encoding of NoiseID (-noiseRoot-1 == NoiseID).
	noiseRoot int32 = -9998
)

// ZVertexSoA is the per-event output: one row per vertex plus the per-track
// scratch columns the clustering kernel borrows.
type ZVertexSoA struct {
	NvFinal uint32

	Zv      []float32 // weighted mean z
	Wv      []float32 // weight (1/error^2), rescaled by ndof/chi2
	Chi2    []float32
	Ptv2    []float32
	SortInd []uint16 // vertex indices ordered by Ptv2 descending

	// Ndof is sized for tracks: the clustering kernel uses it as the
	// per-track neighbour count, FitVertices then overwrites the first
	// NvFinal rows with the per-vertex degrees of freedom.
	Ndof []int32
}

// NewZVertexSoA allocates a ZVertexSoA at full capacity.
func NewZVertexSoA() *ZVertexSoA {
	return &ZVertexSoA{
		Zv:      make([]float32, MaxVertices),
		Wv:      make([]float32, MaxVertices),
		Chi2:    make([]float32, MaxVertices),
		Ptv2:    make([]float32, MaxVertices),
		SortInd: make([]uint16, MaxVertices),
		Ndof:    make([]int32, MaxTracks),
	}
}

// WorkSpace holds the selected tracks of one event and the clustering
// scratch columns. Only the first Ntrks rows are meaningful.
type WorkSpace struct {
	Ntrks uint32

	Itrk []uint32  // index of the track in the caller's input
	Zt   []float32 // z position
	Ezt2 []float32 // z variance
	Ptt2 []float32 // squared pt, capped at ptMax^2

	Izt []uint8 // z bucket
	Iv  []int32 // parent pointer, then cluster id

	NvIntermediate uint32
}

// NewWorkSpace allocates a WorkSpace at full capacity.
func NewWorkSpace() *WorkSpace {
	return &WorkSpace{
		Itrk: make([]uint32, MaxTracks),
		Zt:   make([]float32, MaxTracks),
		Ezt2: make([]float32, MaxTracks),
		Ptt2: make([]float32, MaxTracks),
		Izt:  make([]uint8, MaxTracks),
		Iv:   make([]int32, MaxTracks),
	}
}

// SetTracks copies z and variance columns into ws, bypassing track
// selection. It is intended for callers that have already selected tracks
// and for tests. It panics if more than MaxTracks rows are given.
func (ws *WorkSpace) SetTracks(zt, ezt2 []float32) {
	if len(zt) != len(ezt2) {
		panic("vertexfinder: zt and ezt2 length mismatch")
	}
	if len(zt) > MaxTracks {
		panic("vertexfinder: too many tracks for workspace")
	}
	ws.Ntrks = uint32(len(zt))
	for i := range zt {
		ws.Itrk[i] = uint32(i)
		ws.Zt[i] = zt[i]
		ws.Ezt2[i] = ezt2[i]
		ws.Ptt2[i] = 0
	}
}

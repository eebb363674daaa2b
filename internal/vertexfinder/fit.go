package vertexfinder

import (
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/zvertex/internal/histo"
	"github.com/banshee-data/zvertex/internal/workdiv"
)

// DefaultFitChi2Max is the per-track chi2 above which FitVertices drops a
// track from its vertex.
const DefaultFitChi2Max = 9.0

// FitVertices computes the z of every proto-vertex as the mean of its
// tracks weighted by 1/ezt2, then removes tracks whose normalised distance
// to the vertex exceeds chi2Max (they become OutlierID) and accumulates
// chi2, ndof and the summed pt^2 of the surviving tracks.
type FitVertices struct {
	hist *histo.Histo // vertex -> tracks
	hws  []uint32
	zbuf [][]float64
	wbuf [][]float64
}

// NewFitVertices allocates the team-shared scratch.
func NewFitVertices() *FitVertices {
	return &FitVertices{
		hist: histo.New(MaxVertices, MaxTracks),
		hws:  make([]uint32, workdiv.MaxTeamSize),
		zbuf: make([][]float64, workdiv.MaxTeamSize),
		wbuf: make([][]float64, workdiv.MaxTeamSize),
	}
}

// Run is the kernel body. It ends with a Sync.
func (k *FitVertices) Run(acc *workdiv.Acc, data *ZVertexSoA, ws *WorkSpace, chi2Max float32) {
	nt := int(ws.Ntrks)
	nv := int(data.NvFinal)
	iv := ws.Iv
	hist := k.hist

	workdiv.Assert(nv <= MaxVertices, "%d vertices exceed MaxVertices %d", nv, MaxVertices)

	hist.Zero(acc)
	acc.Sync()
	for i := range acc.UniformElements(nt) {
		if iv[i] > NoiseThreshold {
			continue
		}
		workdiv.Assert(int(iv[i]) < nv, "track %d assigned to vertex %d of %d", i, iv[i], nv)
		hist.Count(int(iv[i]))
	}
	acc.Sync()
	hist.Finalize(acc, k.hws)
	for i := range acc.UniformElements(nt) {
		if iv[i] > NoiseThreshold {
			continue
		}
		hist.Fill(int(iv[i]), i)
	}
	acc.Sync()

	w := acc.Index()
	for v := range acc.UniformElements(nv) {
		members := hist.Bin(v)
		workdiv.Assert(len(members) > 0, "vertex %d has no tracks", v)
		// fill order is scheduling dependent; fix it so the sums are reproducible
		slices.Sort(members)

		zs, wts := k.zbuf[w][:0], k.wbuf[w][:0]
		for _, j := range members {
			zs = append(zs, float64(ws.Zt[j]))
			wts = append(wts, 1/float64(ws.Ezt2[j]))
		}
		k.zbuf[w], k.wbuf[w] = zs, wts

		zv := stat.Mean(zs, wts)
		wv := floats.Sum(wts)

		var chi2, ptv2 float64
		ndof := -1
		for m, j := range members {
			d := zv - zs[m]
			c2 := d * d * wts[m]
			if c2 > float64(chi2Max) {
				iv[j] = OutlierID
				continue
			}
			chi2 += c2
			ndof++
			ptv2 += float64(ws.Ptt2[j])
		}
		if ndof > 0 && chi2 > 0 {
			wv *= float64(ndof) / chi2
		}

		data.Zv[v] = float32(zv)
		data.Wv[v] = float32(wv)
		data.Chi2[v] = float32(chi2)
		data.Ptv2[v] = float32(ptv2)
		data.Ndof[v] = int32(ndof)
	}
	acc.Sync()
}

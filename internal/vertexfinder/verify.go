package vertexfinder

import (
	"github.com/banshee-data/zvertex/internal/workdiv"
)

// verifyForest checks that seeding produced no two-cycles.
func (k *ClusterTracksDBSCAN) verifyForest(acc *workdiv.Acc, ws *WorkSpace) {
	iv := ws.Iv
	for i := range acc.UniformElements(int(ws.Ntrks)) {
		if iv[i] != int32(i) {
			workdiv.Assert(iv[iv[i]] != int32(i), "track %d and %d point at each other", i, iv[i])
		}
	}
	acc.Sync()
}

// verifyRoots checks that the forest is flat and that no cluster was split:
// two cores within eps must share a root.
func (k *ClusterTracksDBSCAN) verifyRoots(acc *workdiv.Acc, data *ZVertexSoA, ws *WorkSpace, p Params) {
	iv, zt, nn := ws.Iv, ws.Zt, data.Ndof
	minT := int32(p.MinT)
	for i := range acc.UniformElements(int(ws.Ntrks)) {
		workdiv.Assert(iv[iv[i]] == iv[i], "track %d: root %d is not a fixed point", i, iv[i])
		if nn[i] < minT {
			continue
		}
		workdiv.Assert(zt[iv[i]] <= zt[i], "track %d: root z %f above track z %f", i, zt[iv[i]], zt[i])
		k.hist.ForEachInBins(int(ws.Izt[i]), 1, func(j int) {
			if nn[j] < minT {
				return
			}
			if abs32(zt[i]-zt[j]) > p.Eps {
				return
			}
			workdiv.Assert(iv[i] == iv[j], "cores %d (z=%f root %d) and %d (z=%f root %d) split",
				i, zt[i], iv[i], j, zt[j], iv[j])
		})
	}
	acc.Sync()
}

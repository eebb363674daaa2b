package vertexfinder

import (
	"cmp"
	"slices"

	"github.com/banshee-data/zvertex/internal/workdiv"
)

// SortByPt2 fills data.SortInd with the vertex indices ordered by summed
// pt^2, highest first. Ties are broken by z and then by index, so the order
// is fully determined by the fitted values. It ends with a Sync.
func SortByPt2(acc *workdiv.Acc, data *ZVertexSoA) {
	nv := int(data.NvFinal)
	for v := range acc.UniformElements(nv) {
		data.SortInd[v] = uint16(v)
	}
	acc.Sync()

	// A few hundred vertices at most: one worker sorts.
	if acc.OncePerBlock() {
		slices.SortFunc(data.SortInd[:nv], func(a, b uint16) int {
			if c := cmp.Compare(data.Ptv2[b], data.Ptv2[a]); c != 0 {
				return c
			}
			if c := cmp.Compare(data.Zv[a], data.Zv[b]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
	}
	acc.Sync()
}

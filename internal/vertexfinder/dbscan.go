package vertexfinder

import (
	"math"
	"sync/atomic"

	"github.com/banshee-data/zvertex/internal/histo"
	"github.com/banshee-data/zvertex/internal/monitoring"
	"github.com/banshee-data/zvertex/internal/workdiv"
)

const (
	zBins = 256
	// zBucketScale is 1/BucketWidth.
	zBucketScale = 10
)

// ClusterTracksDBSCAN groups the tracks of one event into proto-vertices
// along z with a DBSCAN variant built for a single cooperating team.
//
// A track with at least MinT other tracks within Eps is a core. Each core
// points to the lowest-z core within Eps of it, the resulting forest is
// flattened, and every other track joins the cluster of its nearest
// compatible core or is left as noise. Cluster ids are dense and start at 0.
//
// The zero value is not usable; call NewClusterTracksDBSCAN. A kernel holds
// the team-shared scratch (the bucket index and the cluster counter), so one
// instance must not be launched on two teams at the same time.
type ClusterTracksDBSCAN struct {
	hist          *histo.Histo
	hws           []uint32
	foundClusters atomic.Uint32
}

// NewClusterTracksDBSCAN allocates the team-shared scratch.
func NewClusterTracksDBSCAN() *ClusterTracksDBSCAN {
	return &ClusterTracksDBSCAN{
		hist: histo.New(zBins, HistCapacity),
		hws:  make([]uint32, workdiv.MaxTeamSize),
	}
}

// Launch runs the kernel on team.
func (k *ClusterTracksDBSCAN) Launch(team *workdiv.Team, data *ZVertexSoA, ws *WorkSpace, p Params) {
	team.Run(func(acc *workdiv.Acc) {
		k.Run(acc, data, ws, p)
	})
}

// Run is the kernel body. Every worker of the team must call it with the
// same arguments. On return ws.Iv holds the cluster id of each track (or
// NoiseID) and data.NvFinal the number of clusters.
func (k *ClusterTracksDBSCAN) Run(acc *workdiv.Acc, data *ZVertexSoA, ws *WorkSpace, p Params) {
	if acc.OncePerBlock() {
		monitoring.Debugf("dbscan params %d %f %f %f", p.MinT, p.Eps, p.ErrMax, p.Chi2Max)
	}
	er2mx := p.VarianceCeiling()
	eps := p.Eps
	minT := int32(p.MinT)
	chi2max := p.Chi2Max

	nt := int(ws.Ntrks)
	zt := ws.Zt
	ezt2 := ws.Ezt2
	izt := ws.Izt
	iv := ws.Iv
	nn := data.Ndof
	hist := k.hist

	workdiv.Assert(nt <= MaxTracks, "%d tracks exceed MaxTracks %d", nt, MaxTracks)
	workdiv.Assert(nt <= hist.Capacity(), "%d tracks exceed bucket index capacity %d", nt, hist.Capacity())

	hist.Zero(acc)
	acc.Sync()

	// fill the bucket index (a bucket must be wider than eps)
	for i := range acc.UniformElements(nt) {
		izt[i] = zBucket(zt[i])
		hist.Count(int(izt[i]))
		iv[i] = int32(i)
		nn[i] = 0
	}
	acc.Sync()
	hist.Finalize(acc, k.hws)
	workdiv.Assert(int(hist.Size()) == nt, "bucket index holds %d tracks, want %d", hist.Size(), nt)
	for i := range acc.UniformElements(nt) {
		hist.Fill(int(izt[i]), i)
	}
	acc.Sync()

	// count neighbours
	for i := range acc.UniformElements(nt) {
		if ezt2[i] > er2mx {
			continue
		}
		hist.ForEachInBins(int(izt[i]), 1, func(j int) {
			if i == j {
				return
			}
			if abs32(zt[i]-zt[j]) > eps {
				return
			}
			nn[i]++
		})
	}
	acc.Sync()

	// link each core to the lowest core within eps
	for i := range acc.UniformElements(nt) {
		if nn[i] < minT {
			continue
		}
		mz, mj := zt[i], i
		hist.ForEachInBins(int(izt[i]), 1, func(j int) {
			if nn[j] < minT {
				return
			}
			if !lowerZ(zt[j], j, mz, mj) {
				return
			}
			if abs32(zt[i]-zt[j]) > eps {
				return
			}
			mz, mj = zt[j], j
			iv[i] = int32(j)
		})
	}
	acc.Sync()

	if p.Verify {
		k.verifyForest(acc, ws)
	}

	// flatten: every track points directly at its root
	for i := range acc.UniformElements(nt) {
		m := iv[i]
		for m != iv[m] {
			m = iv[m]
		}
		iv[i] = m
	}
	acc.Sync()

	if p.Verify {
		k.verifyRoots(acc, data, ws, p)
	}

	// attach edges to the cluster of the closest compatible core
	for i := range acc.UniformElements(nt) {
		if nn[i] >= minT {
			continue
		}
		mdist := eps
		best := -1
		hist.ForEachInBins(int(izt[i]), 1, func(j int) {
			if nn[j] < minT {
				return
			}
			dist := abs32(zt[i] - zt[j])
			if dist > mdist || (dist == mdist && best >= 0 && j > best) {
				return
			}
			if dist*dist > chi2max*(ezt2[i]+ezt2[j]) {
				return
			}
			mdist = dist
			best = j
		})
		if best >= 0 {
			iv[i] = iv[best]
		}
	}

	if acc.OncePerBlock() {
		k.foundClusters.Store(0)
	}
	acc.Sync()

	// roots that are cores open a cluster, the others are noise
	for i := range acc.UniformElements(nt) {
		if iv[i] != int32(i) {
			continue
		}
		if nn[i] >= minT {
			old := k.foundClusters.Add(1) - 1
			iv[i] = -int32(old + 1)
		} else {
			iv[i] = noiseRoot
		}
	}
	acc.Sync()

	found := k.foundClusters.Load()
	workdiv.Assert(found < MaxVertices, "%d clusters reach MaxVertices %d", found, MaxVertices)

	// propagate the negative id to all members
	for i := range acc.UniformElements(nt) {
		if iv[i] >= 0 {
			iv[i] = iv[iv[i]]
		}
	}
	acc.Sync()

	// cluster ids start from 0
	for i := range acc.UniformElements(nt) {
		iv[i] = -iv[i] - 1
	}

	if acc.OncePerBlock() {
		ws.NvIntermediate = found
		data.NvFinal = found
		monitoring.Debugf("found %d proto vertices", found)
	}
	acc.Sync()
}

// zBucket quantises z into the 256 buckets of the neighbour index. The
// bucket number truncates towards zero and is clamped to the int8 range.
func zBucket(z float32) uint8 {
	s := z * zBucketScale
	switch {
	case s >= math.MaxInt8:
		return math.MaxUint8
	case s <= math.MinInt8:
		return 0
	}
	return uint8(int(s) - math.MinInt8)
}

// lowerZ orders tracks by z, breaking exact ties by index so that the
// choice of predecessor does not depend on visiting order.
func lowerZ(za float32, a int, zb float32, b int) bool {
	if za != zb {
		return za < zb
	}
	return a < b
}

func abs32(x float32) float32 {
	return math.Float32frombits(math.Float32bits(x) &^ (1 << 31))
}

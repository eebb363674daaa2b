package vertexfinder

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/zvertex/internal/workdiv"
)

type clusterRun struct {
	iv    []int32
	nn    []int32
	count int
}

// runDBSCAN clusters the given columns on a team of the given size.
func runDBSCAN(t *testing.T, teamSize int, zt, ezt2 []float32, p Params) clusterRun {
	t.Helper()
	data := NewZVertexSoA()
	ws := NewWorkSpace()
	ws.SetTracks(zt, ezt2)
	NewClusterTracksDBSCAN().Launch(workdiv.NewTeam(teamSize), data, ws, p)
	n := len(zt)
	return clusterRun{
		iv:    slices.Clone(ws.Iv[:n]),
		nn:    slices.Clone(data.Ndof[:n]),
		count: int(data.NvFinal),
	}
}

// partition maps every cluster id to the smallest index among its members,
// so that runs differing only by id allocation order compare equal. Noise
// stays NoiseID.
func partition(iv []int32) []int32 {
	first := map[int32]int32{}
	for i, id := range iv {
		if id == NoiseID {
			continue
		}
		if _, ok := first[id]; !ok {
			first[id] = int32(i)
		}
	}
	out := make([]int32, len(iv))
	for i, id := range iv {
		if id == NoiseID {
			out[i] = NoiseID
			continue
		}
		out[i] = first[id]
	}
	return out
}

func uniform(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func looseParams() Params {
	return Params{MinT: 2, Eps: 0.05, ErrMax: 1.0, Chi2Max: 9}
}

func TestDBSCAN_TwoClusters(t *testing.T) {
	zt := []float32{0.0, 0.01, 0.02, 5.0, 5.01}
	p := looseParams()
	p.MinT = 1 // {3,4} only has one neighbour each

	for _, teamSize := range []int{1, 2, 4} {
		r := runDBSCAN(t, teamSize, zt, uniform(5, 0.0001), p)
		if r.count != 2 {
			t.Fatalf("team=%d: got %d clusters, want 2", teamSize, r.count)
		}
		if r.iv[0] != r.iv[1] || r.iv[1] != r.iv[2] {
			t.Errorf("team=%d: items 0-2 not in one cluster: %v", teamSize, r.iv)
		}
		if r.iv[3] != r.iv[4] {
			t.Errorf("team=%d: items 3-4 not in one cluster: %v", teamSize, r.iv)
		}
		if r.iv[0] == r.iv[3] {
			t.Errorf("team=%d: the two groups share cluster %d", teamSize, r.iv[0])
		}
	}
}

func TestDBSCAN_MinNeighboursTwo(t *testing.T) {
	// With minT=2 the pair at z=5 has one neighbour each: no cores, so
	// both are noise, and only {0,1,2} (whose middle item is a core) forms
	// a cluster.
	zt := []float32{0.0, 0.01, 0.02, 5.0, 5.01}
	r := runDBSCAN(t, 1, zt, uniform(5, 0.0001), looseParams())

	want := []int32{0, 0, 0, NoiseID, NoiseID}
	if diff := cmp.Diff(want, r.iv); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if r.count != 1 {
		t.Errorf("got %d clusters, want 1", r.count)
	}
}

func TestDBSCAN_SingleWorkerIdsFollowRootOrder(t *testing.T) {
	zt := []float32{5.0, 5.01, 5.02, 0.0, 0.01, 0.02}
	r := runDBSCAN(t, 1, zt, uniform(6, 0.0001), looseParams())

	// roots are the lowest-z cores: item 0 and item 3, allocated in index order
	want := []int32{0, 0, 0, 1, 1, 1}
	if diff := cmp.Diff(want, r.iv); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestDBSCAN_IsolatedItemIsNoise(t *testing.T) {
	r := runDBSCAN(t, 2, []float32{1.0}, []float32{0.0001}, looseParams())
	if r.count != 0 {
		t.Errorf("got %d clusters, want 0", r.count)
	}
	if r.iv[0] != NoiseID {
		t.Errorf("isolated item got id %d, want noise %d", r.iv[0], NoiseID)
	}
}

func TestDBSCAN_EmptyInput(t *testing.T) {
	r := runDBSCAN(t, 3, nil, nil, looseParams())
	if r.count != 0 {
		t.Errorf("got %d clusters, want 0", r.count)
	}
}

func TestDBSCAN_EdgeAttachment(t *testing.T) {
	// Items 0-2 are cores. Item 3 sees only item 2 within eps, so it is an
	// edge; its larger variance keeps it inside the chi2 budget.
	zt := []float32{0.0, 0.01, 0.02, 0.065}
	ezt2 := []float32{0.0001, 0.0001, 0.0001, 0.001}
	r := runDBSCAN(t, 2, zt, ezt2, looseParams())

	if r.count != 1 {
		t.Fatalf("got %d clusters, want 1", r.count)
	}
	if r.nn[3] >= 2 {
		t.Fatalf("item 3 has %d neighbours; test expects it to be an edge", r.nn[3])
	}
	if r.iv[3] != r.iv[2] {
		t.Errorf("edge item got id %d, want core cluster %d", r.iv[3], r.iv[2])
	}
}

func TestDBSCAN_EdgeRejectedByChi2(t *testing.T) {
	// Same geometry, but a precise edge track: 0.045^2 > 9*(2e-4), so the
	// chi2 gate refuses the attachment even though it is within eps.
	zt := []float32{0.0, 0.01, 0.02, 0.065}
	r := runDBSCAN(t, 2, zt, uniform(4, 0.0001), looseParams())

	if r.count != 1 {
		t.Fatalf("got %d clusters, want 1", r.count)
	}
	if r.iv[3] != NoiseID {
		t.Errorf("edge item got id %d, want noise", r.iv[3])
	}
}

func TestDBSCAN_EdgePicksNearestCore(t *testing.T) {
	// Two clusters 0.08 apart; the edge sits 0.03 from the upper cluster's
	// lowest core and 0.05 from the lower cluster's highest core.
	zt := []float32{0.0, 0.01, 0.02, 0.10, 0.11, 0.12, 0.07}
	ezt2 := []float32{1e-4, 1e-4, 1e-4, 1e-4, 1e-4, 1e-4, 1e-3}
	p := looseParams()
	p.Eps = 0.06
	p.ErrMax = 0.02 // variance ceiling 4e-4: item 6 cannot be a core

	r := runDBSCAN(t, 3, zt, ezt2, p)
	if r.count != 2 {
		t.Fatalf("got %d clusters, want 2", r.count)
	}
	if r.nn[6] != 0 {
		t.Errorf("high-variance item counted %d neighbours, want 0", r.nn[6])
	}
	if r.iv[6] != r.iv[3] {
		t.Errorf("edge joined cluster %d, want nearest cluster %d", r.iv[6], r.iv[3])
	}
}

func TestDBSCAN_HighVarianceNeverCore(t *testing.T) {
	// Item 1 is surrounded but too imprecise to be a core; it still joins
	// as a member of item 0's cluster.
	zt := []float32{0.0, 0.01, 0.02}
	ezt2 := []float32{1e-4, 0.5, 1e-4}
	p := Params{MinT: 1, Eps: 0.05, ErrMax: 0.1, Chi2Max: 9}

	r := runDBSCAN(t, 1, zt, ezt2, p)
	if r.nn[1] != 0 {
		t.Errorf("skipped item has neighbour count %d, want 0", r.nn[1])
	}
	if r.count != 1 || r.iv[0] != r.iv[1] || r.iv[1] != r.iv[2] {
		t.Errorf("got ids %v with %d clusters, want one cluster", r.iv, r.count)
	}
}

func TestDBSCAN_EqualPositionsDoNotSplit(t *testing.T) {
	zt := []float32{1.0, 1.0, 1.0, 1.0}
	for _, teamSize := range []int{1, 2, 4} {
		r := runDBSCAN(t, teamSize, zt, uniform(4, 1e-4), looseParams())
		if r.count != 1 {
			t.Errorf("team=%d: got %d clusters for identical positions, want 1", teamSize, r.count)
		}
	}
}

func TestDBSCAN_BucketClamping(t *testing.T) {
	// Far outside the bucketed range, items share the end buckets but the
	// distance test still separates them.
	zt := []float32{-40, -40.01, -20, -20.01, 30, 30.01}
	p := looseParams()
	p.MinT = 1
	r := runDBSCAN(t, 2, zt, uniform(6, 1e-4), p)
	if r.count != 3 {
		t.Fatalf("got %d clusters, want 3", r.count)
	}
	want := []int32{0, 0, 2, 2, 4, 4}
	if diff := cmp.Diff(want, partition(r.iv)); diff != "" {
		t.Errorf("partition mismatch (-want +got):\n%s", diff)
	}
}

// randomEvent draws a few dense groups of tracks plus scattered ones.
func randomEvent(rng *rand.Rand, groups, perGroup, scattered int) (zt, ezt2 []float32) {
	for range groups {
		center := float32(rng.NormFloat64() * 4)
		for range perGroup {
			sigma := float32(0.002 + rng.Float64()*0.01)
			zt = append(zt, center+float32(rng.NormFloat64())*sigma)
			ezt2 = append(ezt2, sigma*sigma)
		}
	}
	for range scattered {
		sigma := float32(0.002 + rng.Float64()*0.02)
		zt = append(zt, float32(rng.Float64()*30-15))
		ezt2 = append(ezt2, sigma*sigma)
	}
	return zt, ezt2
}

func TestDBSCAN_PartitionIndependentOfTeamSize(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	p := DefaultParams()
	p.Verify = true

	for trial := range 5 {
		zt, ezt2 := randomEvent(rng, 30, 20, 200)
		ref := runDBSCAN(t, 1, zt, ezt2, p)
		for _, teamSize := range []int{2, 7, 32, 128} {
			got := runDBSCAN(t, teamSize, zt, ezt2, p)
			if got.count != ref.count {
				t.Fatalf("trial %d team=%d: %d clusters, want %d", trial, teamSize, got.count, ref.count)
			}
			if diff := cmp.Diff(partition(ref.iv), partition(got.iv)); diff != "" {
				t.Fatalf("trial %d team=%d: partition differs (-ref +got):\n%s", trial, teamSize, diff)
			}
			if diff := cmp.Diff(ref.nn, got.nn); diff != "" {
				t.Fatalf("trial %d team=%d: neighbour counts differ:\n%s", trial, teamSize, diff)
			}
		}
	}
}

func TestDBSCAN_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	p := DefaultParams()
	minT := int32(p.MinT)

	zt, ezt2 := randomEvent(rng, 40, 15, 300)
	r := runDBSCAN(t, 8, zt, ezt2, p)

	used := map[int32]bool{}
	members := map[int32][]int{}
	for i, id := range r.iv {
		if id == NoiseID {
			if r.nn[i] >= minT {
				t.Errorf("core item %d labelled noise", i)
			}
			continue
		}
		if id < 0 || int(id) >= r.count {
			t.Fatalf("item %d has id %d outside [0, %d)", i, id, r.count)
		}
		used[id] = true
		members[id] = append(members[id], i)
	}
	if len(used) != r.count {
		t.Errorf("%d distinct ids used, clusterCount %d", len(used), r.count)
	}

	// density reachability: the cores of a cluster form an eps-chain along z
	for id, ms := range members {
		var cores []float32
		for _, i := range ms {
			if r.nn[i] >= minT {
				cores = append(cores, zt[i])
			}
		}
		if len(cores) == 0 {
			t.Errorf("cluster %d has no core", id)
			continue
		}
		slices.Sort(cores)
		for k := 1; k < len(cores); k++ {
			if cores[k]-cores[k-1] > p.Eps {
				t.Errorf("cluster %d: cores %g and %g break the eps chain", id, cores[k-1], cores[k])
			}
		}
	}

	// neighbour counts match a brute-force count
	for i := range zt {
		if ezt2[i] > p.VarianceCeiling() {
			continue
		}
		var want int32
		for j := range zt {
			if i != j && float32(math.Abs(float64(zt[i]-zt[j]))) <= p.Eps {
				want++
			}
		}
		if r.nn[i] != want {
			t.Fatalf("item %d: neighbour count %d, brute force %d", i, r.nn[i], want)
		}
	}
}

func TestDBSCAN_RepeatedLaunchesAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	zt, ezt2 := randomEvent(rng, 10, 10, 50)

	data := NewZVertexSoA()
	ws := NewWorkSpace()
	team := workdiv.NewTeam(6)
	k := NewClusterTracksDBSCAN()

	var first []int32
	for range 3 {
		ws.SetTracks(zt, ezt2)
		k.Launch(team, data, ws, DefaultParams())
		got := partition(ws.Iv[:len(zt)])
		if first == nil {
			first = got
			continue
		}
		if diff := cmp.Diff(first, got); diff != "" {
			t.Fatalf("relaunch changed the partition:\n%s", diff)
		}
	}
}

func expectAssertion(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatal("expected a fatal assertion")
		}
		err, ok := r.(error)
		var ae *workdiv.AssertionError
		if !ok || !errors.As(err, &ae) {
			t.Fatalf("panic value %v (%T) is not an AssertionError", r, r)
		}
	}()
	fn()
}

func TestDBSCAN_CapacityBoundary(t *testing.T) {
	spread := func(n int) []float32 {
		zt := make([]float32, n)
		for i := range zt {
			zt[i] = -12.5 + 25*float32(i)/float32(n)
		}
		return zt
	}

	r := runDBSCAN(t, 16, spread(HistCapacity), uniform(HistCapacity, 1e-4), DefaultParams())
	if r.count != 1 {
		t.Errorf("dense full-capacity event gave %d clusters, want 1", r.count)
	}

	expectAssertion(t, func() {
		runDBSCAN(t, 16, spread(HistCapacity+1), uniform(HistCapacity+1, 1e-4), DefaultParams())
	})
}

// pairs returns n two-track clusters 0.02 apart, centred on z=0 so every
// track stays inside the bucketed range.
func pairs(n int) []float32 {
	zt := make([]float32, 0, 2*n)
	for k := range n {
		z := float32(k-n/2) * 0.02
		zt = append(zt, z, z+0.001)
	}
	return zt
}

func TestDBSCAN_TooManyClustersAborts(t *testing.T) {
	n := MaxVertices
	p := Params{MinT: 1, Eps: 0.005, ErrMax: 1, Chi2Max: 9}

	zt := pairs(n)
	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected a fatal assertion")
			}
			var ae *workdiv.AssertionError
			if err, ok := r.(error); !ok || !errors.As(err, &ae) {
				t.Fatalf("panic value %v (%T) is not an AssertionError", r, r)
			}
			if !strings.Contains(ae.Msg, "MaxVertices") {
				t.Errorf("aborted with %q, want the cluster cap", ae.Msg)
			}
		}()
		runDBSCAN(t, 8, zt, uniform(len(zt), 1e-6), p)
	}()

	// one cluster fewer is fine
	zt = pairs(n - 1)
	r := runDBSCAN(t, 8, zt, uniform(len(zt), 1e-6), p)
	if r.count != n-1 {
		t.Errorf("got %d clusters, want %d", r.count, n-1)
	}
}

func TestDBSCAN_HighZOnLargeTeams(t *testing.T) {
	// tracks in the top buckets, which the last worker scans
	zt := []float32{12.0, 12.01, 12.02, -3.0, -3.01}
	want := []int32{0, 0, 0, 3, 3}
	for _, teamSize := range []int{3, 8, 32} {
		for range 200 {
			r := runDBSCAN(t, teamSize, zt, uniform(len(zt), 1e-4), looseParams())
			if r.count != 2 {
				t.Fatalf("team=%d: got %d clusters, want 2", teamSize, r.count)
			}
			if diff := cmp.Diff(want, partition(r.iv)); diff != "" {
				t.Fatalf("team=%d: partition mismatch (-want +got):\n%s", teamSize, diff)
			}
		}
	}
}

func TestZBucket(t *testing.T) {
	tests := []struct {
		z    float32
		want uint8
	}{
		{0, 128},
		{0.05, 128},
		{-0.05, 128},
		{0.15, 129},
		{-0.15, 127},
		{12.65, 254},
		{12.75, 255},
		{1000, 255},
		{-12.85, 0},
		{-1000, 0},
	}
	for _, tt := range tests {
		if got := zBucket(tt.z); got != tt.want {
			t.Errorf("zBucket(%g) = %d, want %d", tt.z, got, tt.want)
		}
	}
}

func TestParams_Validate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	bad := []Params{
		{MinT: 0, Eps: 0.05, ErrMax: 1, Chi2Max: 9},
		{MinT: 2, Eps: 0, ErrMax: 1, Chi2Max: 9},
		{MinT: 2, Eps: 0.2, ErrMax: 1, Chi2Max: 9},
		{MinT: 2, Eps: float32(math.NaN()), ErrMax: 1, Chi2Max: 9},
		{MinT: 2, Eps: 0.05, ErrMax: 0, Chi2Max: 9},
		{MinT: 2, Eps: 0.05, ErrMax: 1, Chi2Max: -1},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: expected error for %+v", i, p)
		}
	}
}

package workdiv

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBlockPrefixScan_MatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, size := range []int{1, 2, 5, 32, 300} {
		for _, n := range []int{0, 1, 31, 257, 4000} {
			in := make([]uint32, n)
			for i := range in {
				in[i] = uint32(rng.IntN(50))
			}
			want := append([]uint32(nil), in...)
			PrefixScan(want)

			got := append([]uint32(nil), in...)
			ws := make([]uint32, size)
			NewTeam(size).Run(func(acc *Acc) {
				BlockPrefixScan(acc, got, ws)
			})
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("size=%d n=%d: scan mismatch (-want +got):\n%s", size, n, diff)
			}
		}
	}
}

func TestBlockPrefixScan_SmallWorkspacePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for undersized workspace")
		}
	}()
	NewTeam(4).Run(func(acc *Acc) {
		BlockPrefixScan(acc, make([]int32, 10), make([]int32, 2))
	})
}

func TestPrefixScan(t *testing.T) {
	data := []int{3, 0, 2, 5}
	PrefixScan(data)
	if diff := cmp.Diff([]int{3, 3, 5, 10}, data); diff != "" {
		t.Errorf("PrefixScan mismatch (-want +got):\n%s", diff)
	}
}

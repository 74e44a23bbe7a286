package draw_storage

import (
	"slices"
	"testing"
)

func TestDirtySetRunsUnordered(t *testing.T) {
	var s dirtySet
	for _, i := range []uint32{900, 7, 3, 130, 5, 4, 901, 129, 3, 6} {
		s.add(i)
	}

	var got [][2]uint32
	s.runs(func(start, end uint32) { got = append(got, [2]uint32{start, end}) })
	want := [][2]uint32{{3, 8}, {129, 131}, {900, 902}}
	if !slices.Equal(got, want) {
		t.Errorf("runs() = %v, want %v", got, want)
	}

	s.reset()
	s.runs(func(start, end uint32) { t.Errorf("runs() after reset = [%d, %d), want none", start, end) })
}

func TestDirtySetRunsLargeReversed(t *testing.T) {
	var s dirtySet
	for i := uint32(20000); i > 0; i-- {
		if i%1000 != 0 {
			s.add(i)
		}
	}

	n := 0
	var last uint32
	s.runs(func(start, end uint32) {
		if start < last {
			t.Fatalf("run [%d, %d) starts before previous end %d", start, end, last)
		}
		last = end
		n++
	})
	if n != 20 {
		t.Errorf("runs() produced %d runs, want 20", n)
	}
}

func TestReserveClustersFirstFit(t *testing.T) {
	d, _, _ := newStorage(t)
	alive, dead := GPUCluster{R: 1}, GPUCluster{R: -1}
	d.clusters = []GPUCluster{alive, dead, alive, dead, dead, dead, alive}

	tests := []struct {
		n    int
		want int
	}{
		{2, 3},
		{1, 1},
		{1, 5},
		{2, 7},
	}
	for _, tt := range tests {
		got := d.reserveClusters(tt.n)
		if got != tt.want {
			t.Errorf("reserveClusters(%d) = %d, want %d", tt.n, got, tt.want)
		}
		for i := got; i < got+tt.n; i++ {
			d.clusters[i] = alive
		}
	}
	if len(d.clusters) != 9 {
		t.Errorf("len(clusters) = %d, want 9", len(d.clusters))
	}
	if d.clusterState != StateTopologyDirty {
		t.Errorf("clusterState = %v, want %v", d.clusterState, StateTopologyDirty)
	}
}

package curriculum

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Push(v)
	}
	if !w.Full() || w.Len() != 3 {
		t.Fatalf("expected full window of 3, got len %d", w.Len())
	}
	if diff := cmp.Diff([]float64{3, 4, 5}, w.Values()); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{4, 5}, w.Last(2)); diff != "" {
		t.Fatalf("last mismatch (-want +got):\n%s", diff)
	}
	if w.Mean() != 4 {
		t.Fatalf("expected mean 4, got %f", w.Mean())
	}
}

func TestWindowStdAndCV(t *testing.T) {
	w := NewWindow(4)
	for _, v := range []float64{2, 4, 4, 6} {
		w.Push(v)
	}
	// population std of {2,4,4,6} is sqrt(2)
	if math.Abs(w.Std()-math.Sqrt2) > 1e-12 {
		t.Fatalf("expected std sqrt(2), got %f", w.Std())
	}
	if math.Abs(w.CV()-math.Sqrt2/4) > 1e-12 {
		t.Fatalf("expected cv sqrt(2)/4, got %f", w.CV())
	}
}

func TestWindowEmptyAndZeroMean(t *testing.T) {
	w := NewWindow(5)
	if w.Mean() != 0 || w.Std() != 0 || w.CV() != 0 {
		t.Fatal("empty window should report zeros")
	}
	w.Push(-1)
	w.Push(1)
	if w.CV() != 0 {
		t.Fatalf("zero-mean window should report cv 0, got %f", w.CV())
	}
	w.Reset()
	if w.Len() != 0 || len(w.Values()) != 0 {
		t.Fatal("reset should empty the window")
	}
}

func TestWindowNoDriftOverManyPushes(t *testing.T) {
	w := NewWindow(7)
	for i := 0; i < 100000; i++ {
		w.Push(0.1 * float64(i%13))
	}
	var want float64
	for _, v := range w.Values() {
		want += v
	}
	want /= 7
	if math.Abs(w.Mean()-want) > 1e-12 {
		t.Fatalf("running mean drifted: %g vs %g", w.Mean(), want)
	}
}

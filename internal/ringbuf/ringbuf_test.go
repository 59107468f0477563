package ringbuf

import (
	"testing"
)

func TestWindow_BasicPush(t *testing.T) {
	w := New[float64](4)

	w.Push(1)
	w.Push(2)

	if w.Len() != 2 {
		t.Fatalf("expected len=2, got %d", w.Len())
	}
	if w.Cap() != 4 {
		t.Fatalf("expected cap=4, got %d", w.Cap())
	}

	got := w.Values()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1 2], got %v", got)
	}

	last, ok := w.Last()
	if !ok || last != 2 {
		t.Fatalf("expected last=2, got %v ok=%v", last, ok)
	}
}

func TestWindow_EvictsOldestFirst(t *testing.T) {
	w := New[int](3)

	for i := 1; i <= 3; i++ {
		if _, evicted := w.Push(i); evicted {
			t.Fatalf("push %d should not evict", i)
		}
	}

	old, evicted := w.Push(4)
	if !evicted || old != 1 {
		t.Fatalf("expected eviction of 1, got %d evicted=%v", old, evicted)
	}
	old, evicted = w.Push(5)
	if !evicted || old != 2 {
		t.Fatalf("expected eviction of 2, got %d evicted=%v", old, evicted)
	}

	got := w.Values()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("at %d: expected %d, got %d (values=%v)", i, want[i], got[i], got)
		}
	}
}

func TestWindow_CapacityPlusK(t *testing.T) {
	// Pushing capacity+k elements leaves exactly the last capacity, in order.
	for _, capacity := range []int{1, 2, 5, 20} {
		for _, k := range []int{0, 1, 7, 100} {
			w := New[int](capacity)
			n := capacity + k
			for i := 0; i < n; i++ {
				w.Push(i)
				if w.Len() > capacity {
					t.Fatalf("cap=%d: len %d exceeds capacity", capacity, w.Len())
				}
			}
			got := w.Values()
			if len(got) != capacity {
				t.Fatalf("cap=%d k=%d: expected len=%d, got %d", capacity, k, capacity, len(got))
			}
			for i, v := range got {
				if v != n-capacity+i {
					t.Fatalf("cap=%d k=%d at %d: expected %d, got %d", capacity, k, i, n-capacity+i, v)
				}
			}
		}
	}
}

func TestWindow_Wraparound(t *testing.T) {
	w := New[int](4)

	// Fill and overwrite multiple times to exercise wraparound
	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			w.Push(round*10 + i)
		}
		for i := 0; i < 4; i++ {
			if got := w.At(i); got != round*10+i {
				t.Fatalf("round %d at %d: expected %d, got %d", round, i, round*10+i, got)
			}
		}
	}
}

func TestWindow_EmptyAndReset(t *testing.T) {
	w := New[string](2)
	if _, ok := w.Last(); ok {
		t.Fatal("last on empty window should return false")
	}
	if len(w.Values()) != 0 {
		t.Fatal("values on empty window should be empty")
	}

	w.Push("a")
	w.Push("b")
	if !w.Full() {
		t.Fatal("expected full window")
	}
	w.Reset()
	if w.Len() != 0 || w.Full() {
		t.Fatalf("expected empty window after reset, len=%d", w.Len())
	}
}

func TestWindow_ClampsCapacity(t *testing.T) {
	w := New[int](0)
	if w.Cap() != 1 {
		t.Fatalf("expected cap=1, got %d", w.Cap())
	}
	w.Push(7)
	w.Push(8)
	if v, _ := w.Last(); v != 8 || w.Len() != 1 {
		t.Fatalf("expected single element 8, got %v len=%d", v, w.Len())
	}
}

func TestWindow_AppendToReusesScratch(t *testing.T) {
	w := New[float64](3)
	for _, v := range []float64{1, 2, 3, 4} {
		w.Push(v)
	}
	scratch := make([]float64, 0, 8)
	got := w.AppendTo(scratch[:0])
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("expected [2 3 4], got %v", got)
	}
}

package skiplist

import "testing"

func lessInt(a, b int) bool { return a < b }

func TestInsertGet(t *testing.T) {
	sl := New[int, int](lessInt)
	for i := 0; i < 100; i++ {
		sl.Insert(i, 10*i)
	}

	for i := 0; i < 100; i++ {
		v, ok := sl.Get(i)
		if !ok || v != 10*i {
			t.Fatalf("Get(%d) = %d, %v; want %d, true", i, v, ok, 10*i)
		}
	}

	if _, ok := sl.Get(200); ok {
		t.Fatal("Get(200) should not be found")
	}
}

func TestRange(t *testing.T) {
	sl := New[int, int](lessInt)
	for i := 0; i < 100; i++ {
		sl.Insert(i, 10*i)
	}

	entries := sl.Range(25, 35)
	if len(entries) != 11 {
		t.Fatalf("Range(25,35) returned %d entries, want 11", len(entries))
	}
	for i, e := range entries {
		want := 25 + i
		if e.Key != want {
			t.Fatalf("entries[%d].Key = %d, want %d", i, e.Key, want)
		}
	}
}

func TestInsertUpdatesExistingKey(t *testing.T) {
	sl := New[int, string](lessInt)
	sl.Insert(1, "v1")
	sl.Insert(1, "v2")

	if sl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", sl.Len())
	}
	v, ok := sl.Get(1)
	if !ok || v != "v2" {
		t.Fatalf("Get(1) = %q, %v; want v2, true", v, ok)
	}
}

func TestIteratorAscendingOrder(t *testing.T) {
	sl := New[int, int](lessInt)
	for _, k := range []int{5, 1, 3, 2, 4} {
		sl.Insert(k, k*k)
	}

	it := sl.NewIterator()
	prev := -1
	count := 0
	for it.Valid() {
		if it.Key() <= prev {
			t.Fatalf("iterator not ascending: %d after %d", it.Key(), prev)
		}
		prev = it.Key()
		count++
		it.Next()
	}
	if count != 5 {
		t.Fatalf("iterated %d entries, want 5", count)
	}
}

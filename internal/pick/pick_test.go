package pick

import "testing"

func TestRandomIsSeedable(t *testing.T) {
	opts := []string{"a", "b", "c", "d", "e"}
	a, b := NewRandom(42), NewRandom(42)
	for i := 0; i < 20; i++ {
		if x, y := a.Pick(opts), b.Pick(opts); x != y {
			t.Fatalf("same seed diverged at %d: %q vs %q", i, x, y)
		}
	}
	if got := NewRandom(1).Pick(nil); got != "" {
		t.Fatalf("Pick(nil) = %q", got)
	}
}

func TestFixed(t *testing.T) {
	opts := []string{"a", "b", "c"}
	if got := Fixed(4).Pick(opts); got != "b" {
		t.Fatalf("Fixed(4) = %q", got)
	}
	if got := Fixed(-1).Pick(opts); got != "c" {
		t.Fatalf("Fixed(-1) = %q", got)
	}
}

package engine

import "testing"

func TestAlphaName(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "BA"},
		{27, "BB"},
		{51, "BZ"},
		{52, "CA"},
		{700, "BAY"},
	}
	for _, c := range cases {
		if got := AlphaName(c.n); got != c.want {
			t.Errorf("AlphaName(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

func TestChildNameAlternatesClass(t *testing.T) {
	cases := []struct {
		parent string
		i      int
		want   string
	}{
		{"0", 0, "0A"},
		{"0", 1, "0B"},
		{"0A", 0, "0A0"},
		{"0A", 3, "0A3"},
		{"0A3", 26, "0A3BA"},
		{"", 2, "2"},
	}
	for _, c := range cases {
		if got := ChildName(c.parent, c.i); got != c.want {
			t.Errorf("ChildName(%q, %d) = %q, want %q", c.parent, c.i, got, c.want)
		}
	}
}

func TestParentNameRoundTrip(t *testing.T) {
	parents := []string{"0", "0A", "0A3", "0A3BA", "7", "XY"}
	for _, p := range parents {
		for i := 0; i < 30; i++ {
			child := ChildName(p, i)
			if got := ParentName(child); got != p {
				t.Fatalf("ParentName(ChildName(%q, %d)) = %q, want %q", p, i, got, p)
			}
		}
	}
}

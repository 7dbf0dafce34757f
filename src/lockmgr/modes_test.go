package lockmgr

import "testing"

func TestCompatibilityMatrixIsSymmetric(t *testing.T) {
	modes := []Mode{IS, IX, S, SIX, X}
	for _, a := range modes {
		for _, b := range modes {
			if a.Compatible(b) != b.Compatible(a) {
				t.Fatalf("compatibility(%s, %s) not symmetric", a, b)
			}
		}
	}
}

func TestCompatibilityXIncompatibleWithEverything(t *testing.T) {
	modes := []Mode{IS, IX, S, SIX, X}
	for _, m := range modes {
		if X.Compatible(m) {
			t.Fatalf("X should be incompatible with %s", m)
		}
	}
}

func TestUpgradeLattice(t *testing.T) {
	cases := []struct {
		from, to Mode
		want     bool
	}{
		{IS, S, true},
		{IS, X, true},
		{IS, IX, true},
		{IS, SIX, true},
		{S, X, true},
		{S, SIX, true},
		{S, IX, false},
		{IX, X, true},
		{IX, SIX, true},
		{IX, S, false},
		{SIX, X, true},
		{SIX, S, false},
		{X, S, false},
		{X, IX, false},
	}
	for _, c := range cases {
		if got := c.from.Upgradable(c.to); got != c.want {
			t.Errorf("%s.Upgradable(%s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsIntention(t *testing.T) {
	if !IS.IsIntention() || !IX.IsIntention() {
		t.Fatal("IS and IX must be intention modes")
	}
	for _, m := range []Mode{S, SIX, X} {
		if m.IsIntention() {
			t.Fatalf("%s must not be an intention mode", m)
		}
	}
}

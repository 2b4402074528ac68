package grading

import "testing"

func TestRatio(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 100},
		{"paris", "paris", 100},
		{"pariss", "paris", 91},
		{"paris", "", 0},
		{"", "paris", 0},
		{"kitten", "sitting", 62},
		{"abc", "xyz", 0},
	}
	for _, c := range cases {
		if got := Ratio(c.a, c.b); got != c.want {
			t.Errorf("Ratio(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestRatioSymmetric(t *testing.T) {
	if Ratio("photosynthesis", "fotosynthesis") != Ratio("fotosynthesis", "photosynthesis") {
		t.Fatal("ratio should not depend on argument order")
	}
}

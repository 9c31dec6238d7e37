package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		{"", 10, 10},
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		{"x", 5, 5},
		{" 42", 7, 7}, // no trim
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestParsePage(t *testing.T) {
	cases := []struct {
		page, size string
		want       Page
	}{
		{"", "", Page{1, 20}},
		{"3", "10", Page{3, 10}},
		{"0", "0", Page{1, 1}},
		{"-2", "500", Page{1, 100}},
		{"x", "y", Page{1, 20}},
	}
	for _, tc := range cases {
		if got := ParsePage(tc.page, tc.size, 20, 100); got != tc.want {
			t.Fatalf("ParsePage(%q,%q) = %+v; want %+v", tc.page, tc.size, got, tc.want)
		}
	}
}

func TestPage_OffsetAndTotalPages(t *testing.T) {
	p := Page{Number: 3, Size: 10}
	if p.Offset() != 20 {
		t.Fatalf("Offset = %d", p.Offset())
	}
	for total, want := range map[int64]int{0: 0, 1: 1, 10: 1, 11: 2, 30: 3} {
		if got := p.TotalPages(total); got != want {
			t.Fatalf("TotalPages(%d) = %d; want %d", total, got, want)
		}
	}
}

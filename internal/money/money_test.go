package money

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"", 0, true},
		{"0", 0, true},
		{"1", 1000000, true},
		{"1000.50", 1000500000, true},
		{"0.000001", 1, true},
		{"0.0000019", 1, true}, // extra precision truncated
		{"123.456789", 123456789, true},
		{"-5", 0, false},
		{"1.2.3", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.in)
		if ok != tc.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Errorf("Parse(%q) = %s, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0.000000"},
		{1, "0.000001"},
		{1000500000, "1000.500000"},
		{-25000000, "-25.000000"},
	}
	for _, tc := range cases {
		if got := Format(big.NewInt(tc.in)); got != tc.want {
			t.Errorf("Format(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := Format(nil); got != "0.000000" {
		t.Errorf("Format(nil) = %q", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000001", "1000.500000", "99999999.999999"} {
		v, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(v); got != s {
			t.Errorf("Format(Parse(%q)) = %q", s, got)
		}
	}
}

func TestIsPositive(t *testing.T) {
	if IsPositive("0") || IsPositive("") || IsPositive("-1") || IsPositive("x") {
		t.Error("non-positive input reported positive")
	}
	if !IsPositive("0.000001") {
		t.Error("smallest unit not reported positive")
	}
}

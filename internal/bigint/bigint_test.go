package bigint

import "testing"

func TestNormalizeDecimalRoundTrip(t *testing.T) {
	cases := []struct{ in, want string }{
		{"0", "0"},
		{"007", "7"},
		{"1000000000000000000", "1000000000000000000"},
	}
	for _, c := range cases {
		got, err := NormalizeDecimal(c.in)
		if err != nil {
			t.Fatalf("NormalizeDecimal(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("NormalizeDecimal(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeDecimalRejectsNonDecimal(t *testing.T) {
	for _, bad := range []string{"0x10", "-5", "1.5", ""} {
		if _, err := NormalizeDecimal(bad); err == nil {
			t.Errorf("NormalizeDecimal(%q) expected error, got none", bad)
		}
	}
}

func TestMulDivSmallHeadroom(t *testing.T) {
	v, _ := FromDecimal("1000000000000000000")
	got := MulDivSmall(v, 11, 10)
	want, _ := FromDecimal("1100000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("MulDivSmall(1e18, 11, 10) = %s, want %s", ToDecimal(got), ToDecimal(want))
	}
}

func TestRoundTripPreservesValue(t *testing.T) {
	s := "123456789012345678901234567890"
	v, err := FromDecimal(s)
	if err != nil {
		t.Fatalf("FromDecimal: %v", err)
	}
	if got := ToDecimal(v); got != s {
		t.Errorf("round trip = %s, want %s", got, s)
	}
}

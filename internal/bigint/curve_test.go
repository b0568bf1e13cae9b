package bigint

import "testing"

func mustU256(t *testing.T, s string) *U256 {
	t.Helper()
	v, err := FromDecimal(s)
	if err != nil {
		t.Fatalf("FromDecimal(%q): %v", s, err)
	}
	return v
}

func TestCurvePointEndpoints(t *testing.T) {
	start := mustU256(t, "1000")
	end := mustU256(t, "2000")

	got, err := CurvePoint(start, end, 100, 200, 100)
	if err != nil {
		t.Fatalf("CurvePoint at start: %v", err)
	}
	if got.Cmp(start) != 0 {
		t.Errorf("at t=start got %s, want %s", ToDecimal(got), ToDecimal(start))
	}

	got, err = CurvePoint(start, end, 100, 200, 200)
	if err != nil {
		t.Fatalf("CurvePoint at end: %v", err)
	}
	if got.Cmp(end) != 0 {
		t.Errorf("at t=end got %s, want %s", ToDecimal(got), ToDecimal(end))
	}
}

func TestCurvePointMidpoint(t *testing.T) {
	start := mustU256(t, "1000")
	end := mustU256(t, "2000")

	got, err := CurvePoint(start, end, 0, 100, 50)
	if err != nil {
		t.Fatalf("CurvePoint: %v", err)
	}
	want := mustU256(t, "1500")
	if got.Cmp(want) != 0 {
		t.Errorf("midpoint = %s, want %s", ToDecimal(got), ToDecimal(want))
	}
}

func TestCurvePointOutsideWindowErrors(t *testing.T) {
	start := mustU256(t, "1000")
	end := mustU256(t, "2000")

	if _, err := CurvePoint(start, end, 100, 200, 99); err == nil {
		t.Error("expected error for t before window")
	}
	if _, err := CurvePoint(start, end, 100, 200, 201); err == nil {
		t.Error("expected error for t after window")
	}
}

func TestCurvePointMonotoneDescending(t *testing.T) {
	start := mustU256(t, "5000")
	end := mustU256(t, "1000")

	prev, err := CurvePoint(start, end, 0, 100, 0)
	if err != nil {
		t.Fatalf("CurvePoint: %v", err)
	}
	for tm := uint64(10); tm <= 100; tm += 10 {
		cur, err := CurvePoint(start, end, 0, 100, tm)
		if err != nil {
			t.Fatalf("CurvePoint(%d): %v", tm, err)
		}
		if cur.Cmp(prev) > 0 {
			t.Errorf("curve not monotone decreasing at t=%d: prev=%s cur=%s", tm, ToDecimal(prev), ToDecimal(cur))
		}
		prev = cur
	}
}

func TestMin(t *testing.T) {
	a := mustU256(t, "100")
	b := mustU256(t, "50")
	if got := Min(a, b); got.Cmp(b) != 0 {
		t.Errorf("Min(100,50) = %s, want 50", ToDecimal(got))
	}
	if got := Min(b, a); got.Cmp(b) != 0 {
		t.Errorf("Min(50,100) = %s, want 50", ToDecimal(got))
	}
}

package runner

import "testing"

func TestToInt(t *testing.T) {
	for _, v := range []any{3, int64(3), 3.0} {
		n, err := toInt(v)
		if err != nil || n != 3 {
			t.Errorf("toInt(%v) = %d, %v", v, n, err)
		}
	}
	if _, err := toInt(2.5); err == nil {
		t.Error("expected error for fractional value")
	}
	if _, err := toInt("3"); err == nil {
		t.Error("expected error for string")
	}
}

func TestToFloat(t *testing.T) {
	f, err := toFloat(2)
	if err != nil || f != 2 {
		t.Errorf("toFloat(2) = %v, %v", f, err)
	}
	if _, err := toFloat(true); err == nil {
		t.Error("expected error for bool")
	}
}

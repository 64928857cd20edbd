package math

import "testing"

func TestClamp(t *testing.T) {
	if got := Clamp[uint32](0, 1, 16); got != 1 {
		t.Errorf("Clamp(0, 1, 16) = %d", got)
	}
	if got := Clamp[uint32](40, 1, 16); got != 16 {
		t.Errorf("Clamp(40, 1, 16) = %d", got)
	}
	if got := Clamp(0.5, 0, 1); got != 0.5 {
		t.Errorf("Clamp(0.5, 0, 1) = %v", got)
	}
	if got := Clamp[float32](-2, 0, 1); got != 0 {
		t.Errorf("Clamp(-2, 0, 1) = %v", got)
	}
}

func TestUnormToByte(t *testing.T) {
	tests := []struct {
		in   float32
		want uint8
	}{
		{0, 0},
		{1, 255},
		{0.5, 128},
		{0.2, 51},
		{-1, 0},
		{3, 255},
	}
	for _, tt := range tests {
		if got := UnormToByte(tt.in); got != tt.want {
			t.Errorf("UnormToByte(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

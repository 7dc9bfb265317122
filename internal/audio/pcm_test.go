package audio

import (
	"math"
	"testing"
)

func TestApplyGainSaturates(t *testing.T) {
	tests := []struct {
		name string
		in   int16
		want int16
	}{
		{"zero", 0, 0},
		{"small positive", 123, 1230},
		{"small negative", -123, -1230},
		{"largest unclamped", 3276, 32760},
		{"first clamped", 3277, math.MaxInt16},
		{"smallest unclamped", -3276, -32760},
		{"first clamped negative", -3277, math.MinInt16},
		{"max", math.MaxInt16, math.MaxInt16},
		{"min", math.MinInt16, math.MinInt16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := []int16{tt.in}
			ApplyGain(samples, 10)
			if samples[0] != tt.want {
				t.Errorf("gain(%d) = %d, want %d", tt.in, samples[0], tt.want)
			}
		})
	}
}

func TestApplyGainIsDeterministic(t *testing.T) {
	a := []int16{1, -2, 300, -4000, 5000}
	b := append([]int16(nil), a...)
	ApplyGain(a, 10)
	ApplyGain(b, 10)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs between runs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestDecodeLittleEndian(t *testing.T) {
	got := Decode(nil, []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0x7f})
	want := []int16{1, -1, math.MinInt16}

	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestDecodeReusesDestination(t *testing.T) {
	dst := make([]int16, 0, 8)
	got := Decode(dst, Encode(nil, []int16{7, 8}))
	if &got[0] != &dst[:1][0] {
		t.Error("expected Decode to reuse the destination backing array")
	}
}

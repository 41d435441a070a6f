package transcribe

import "testing"

func TestDownsampleRatio(t *testing.T) {
	pcm := make([]int16, 48000)
	out := Downsample(pcm, 48000, 16000)
	if len(out) != 16000 {
		t.Fatalf("len = %d, want 16000", len(out))
	}
}

func TestDownsampleSameRateIsIdentity(t *testing.T) {
	pcm := []int16{1, 2, 3}
	out := Downsample(pcm, 16000, 16000)
	if len(out) != 3 || out[0] != 1 || out[2] != 3 {
		t.Fatalf("identity broken: %v", out)
	}
}

func TestDownsamplePicksNearestSamples(t *testing.T) {
	// every third sample survives a 3:1 reduction
	pcm := []int16{0, 10, 20, 30, 40, 50, 60, 70, 80}
	out := Downsample(pcm, 48000, 16000)
	want := []int16{0, 30, 60}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestDownsampleEmptyInput(t *testing.T) {
	if out := Downsample(nil, 48000, 16000); len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}

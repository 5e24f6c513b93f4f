package util

import "testing"

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.Percentile(50) != 0 {
		t.Error("Empty histogram should report 0")
	}

	for i := 0; i < 90; i++ {
		h.AddSample(10)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(5000)
	}

	if h.Count() != 100 {
		t.Errorf("Expected 100 samples, got %d", h.Count())
	}
	if avg := h.AverageSize(); avg != (90*10+10*5000)/100 {
		t.Errorf("Unexpected average %d", avg)
	}
	if p := h.Percentile(50); p != 8 {
		t.Errorf("Expected median estimate 8, got %d", p)
	}
	if p := h.Percentile(99); p != (4096+16384)/2 {
		t.Errorf("Expected p99 estimate %d, got %d", (4096+16384)/2, p)
	}
}

package anomaly

import (
	"testing"
	"time"
)

func TestFilters_SinceOrZero_DefaultsToEpoch(t *testing.T) {
	f := Filters{}
	got := f.sinceOrZero()
	if !got.Equal(time.Unix(0, 0).UTC()) {
		t.Errorf("expected epoch default, got %v", got)
	}
}

func TestFilters_SinceOrZero_PreservesExplicitSince(t *testing.T) {
	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	f := Filters{Since: since}
	if got := f.sinceOrZero(); !got.Equal(since) {
		t.Errorf("expected %v, got %v", since, got)
	}
}

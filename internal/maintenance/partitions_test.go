package maintenance

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCutoff_InvalidTimezone(t *testing.T) {
	rm := NewRetentionManager(nil, 30, "Not/A_Zone", zap.NewNop())
	if _, err := rm.cutoff(); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestCutoff_SubtractsRetentionDays(t *testing.T) {
	rm := NewRetentionManager(nil, 7, "UTC", zap.NewNop())
	before := time.Now().UTC()
	cutoff, err := rm.cutoff()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantMax := before.AddDate(0, 0, -7)
	if cutoff.After(wantMax.Add(time.Second)) {
		t.Errorf("cutoff %v is not roughly %d days before now", cutoff, 7)
	}
}

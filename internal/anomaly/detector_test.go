package anomaly

import (
	"testing"
	"time"
)

func TestDetect_FewerThanTenPointsReturnsEmpty(t *testing.T) {
	d := NewDetector()
	timestamps := make([]time.Time, 5)
	values := make([]float64, 5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range timestamps {
		timestamps[i] = base.Add(time.Duration(i) * time.Hour)
		values[i] = 50
	}
	got := d.Detect("bgp_session_flaps", timestamps, values, Additive, "r1")
	if len(got) != 0 {
		t.Fatalf("expected no anomalies below the 10-point minimum, got %d", len(got))
	}
}

func TestDetect_ExactlyTenPointsBoundary(t *testing.T) {
	d := NewDetector()
	timestamps := make([]time.Time, 10)
	values := make([]float64, 10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range timestamps {
		timestamps[i] = base.Add(time.Duration(i) * time.Hour)
		values[i] = 50
	}
	// Must not panic and must run the full pipeline at the boundary.
	_ = d.Detect("bgp_session_flaps", timestamps, values, Additive, "r1")
}

func TestDetect_ConstantSeriesZeroSigmaNoAnomalies(t *testing.T) {
	d := NewDetector()
	timestamps := make([]time.Time, 40)
	values := make([]float64, 40)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range timestamps {
		timestamps[i] = base.Add(time.Duration(i) * time.Hour)
		values[i] = 42
	}
	got := d.Detect("cpu_temp", timestamps, values, Additive, "")
	if len(got) != 0 {
		t.Fatalf("a perfectly constant series must never be flagged, got %d anomalies", len(got))
	}
}

// 1000 hourly points with seasonal mean ~50 and amplitude 20; a single
// injected spike to 300 must be the anomaly that comes back.
func TestDetect_SyntheticFlapSpike(t *testing.T) {
	d := NewDetector()
	timestamps, values := generateSyntheticMetrics(1000, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 50, 20, 0)
	spikeAt := injectSpike(timestamps, values, 500, 300)

	got := d.Detect("bgp_session_flaps", timestamps, values, Multiplicative, "r1")
	if len(got) == 0 {
		t.Fatal("expected the injected spike to be flagged")
	}

	var found *Anomaly
	for i := range got {
		if got[i].Timestamp.Equal(spikeAt) {
			found = &got[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected an anomaly at the injected spike's timestamp, got %+v", got)
	}
	if found.AnomalyType != TypeBGPFlap {
		t.Fatalf("expected bgp_flap anomaly type, got %s", found.AnomalyType)
	}
	if found.Severity != SeverityHigh && found.Severity != SeverityCritical {
		t.Fatalf("expected high or critical severity, got %s", found.Severity)
	}
}

func TestDetect_WeeklySeasonalDropFlagged(t *testing.T) {
	d := NewDetector()
	timestamps, values := generateSyntheticMetrics(1000, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 200, 15, 25)
	dropAt := injectSpike(timestamps, values, 700, 0)

	got := d.Detect("interface_errors", timestamps, values, Additive, "r2")

	var found bool
	for i := range got {
		if got[i].Timestamp.Equal(dropAt) {
			found = true
			if got[i].AnomalyType != TypeInterfaceError {
				t.Fatalf("expected interface_error anomaly type, got %s", got[i].AnomalyType)
			}
		}
	}
	if !found {
		t.Fatalf("expected the injected drop to be flagged, got %d anomalies", len(got))
	}
}

func TestMetricToType(t *testing.T) {
	cases := map[string]Type{
		"bgp_session_flaps": TypeBGPFlap,
		"cpu_temp":          TypeCPUTemperature,
		"interface_errors":  TypeInterfaceError,
		"something_else":    TypeOther,
	}
	for metric, want := range cases {
		if got := MetricToType(metric); got != want {
			t.Errorf("MetricToType(%q) = %s, want %s", metric, got, want)
		}
	}
}

func TestClassifySeverity(t *testing.T) {
	cases := []struct {
		deviation, std float64
		want           Severity
	}{
		{10, 0, SeverityMedium},
		{29, 10, SeverityLow},
		{30, 10, SeverityMedium},
		{40, 10, SeverityHigh},
		{50, 10, SeverityCritical},
		{20, 10, SeverityLow},
	}
	for _, c := range cases {
		if got := classifySeverity(c.deviation, c.std); got != c.want {
			t.Errorf("classifySeverity(%v, %v) = %s, want %s", c.deviation, c.std, got, c.want)
		}
	}
}

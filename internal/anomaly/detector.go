// Package anomaly implements the seasonal-baseline, 3-sigma anomaly
// detector: given aligned timestamp/value series for an operational
// metric, it fits a daily+weekly seasonal baseline, computes residuals
// against a rolling mean/stddev, and flags points whose residual exceeds
// three standard deviations.
package anomaly

import (
	"math"
	"time"
)

// Type enumerates the fixed anomaly type taxonomy.
type Type string

const (
	TypeBGPFlap        Type = "bgp_flap"
	TypeCPUTemperature Type = "cpu_temperature"
	TypeInterfaceError Type = "interface_error"
	TypeOther          Type = "other"
)

// Severity enumerates the fixed severity taxonomy.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// MetricToType maps a metric name to its anomaly type.
func MetricToType(metricName string) Type {
	switch metricName {
	case "bgp_session_flaps":
		return TypeBGPFlap
	case "cpu_temp":
		return TypeCPUTemperature
	case "interface_errors":
		return TypeInterfaceError
	default:
		return TypeOther
	}
}

// Anomaly is one flagged point.
type Anomaly struct {
	MetricName    string
	AnomalyType   Type
	Timestamp     time.Time
	Value         float64
	ExpectedValue float64
	Deviation     float64
	Severity      Severity
	Device        string
	Metadata      map[string]any
}

// SeasonalityMode controls whether the baseline combines seasonal
// components additively or multiplicatively.
type SeasonalityMode string

const (
	Additive       SeasonalityMode = "additive"
	Multiplicative SeasonalityMode = "multiplicative"
)

// Detector fits a seasonal baseline and flags 3-sigma residuals.
type Detector struct {
	SigmaThreshold float64
}

// NewDetector builds a Detector with the documented default threshold of 3.
func NewDetector() *Detector {
	return &Detector{SigmaThreshold: 3.0}
}

// Detect fits the seasonal baseline and flags 3-sigma residuals. Fewer
// than 10 points returns an empty slice, never an error — the detector has
// no failure mode visible to callers.
func (d *Detector) Detect(metricName string, timestamps []time.Time, values []float64, mode SeasonalityMode, device string) []Anomaly {
	if len(timestamps) < 10 || len(timestamps) != len(values) {
		return nil
	}

	baseline, lower, upper := seasonalBaseline(timestamps, values, mode)

	residuals := make([]float64, len(values))
	for i := range values {
		residuals[i] = values[i] - baseline[i]
	}

	window := len(values) / 2
	if window > 30 {
		window = 30
	}
	if window < 1 {
		window = 1
	}
	means, stddevs := rollingMeanStd(residuals, window)

	anomalyType := MetricToType(metricName)

	var out []Anomaly
	for i, r := range residuals {
		dev := math.Abs(r - means[i])
		if dev <= d.SigmaThreshold*stddevs[i] {
			continue
		}
		out = append(out, Anomaly{
			MetricName:    metricName,
			AnomalyType:   anomalyType,
			Timestamp:     timestamps[i],
			Value:         values[i],
			ExpectedValue: baseline[i],
			Deviation:     dev,
			Severity:      classifySeverity(dev, stddevs[i]),
			Device:        device,
			Metadata: map[string]any{
				"residual_std":    stddevs[i],
				"sigma_threshold": d.SigmaThreshold,
				"lower_bound":     lower[i],
				"upper_bound":     upper[i],
			},
		})
	}
	return out
}

// classifySeverity maps the sigma ratio onto the fixed severity bands.
func classifySeverity(deviation, std float64) Severity {
	if std == 0 {
		return SeverityMedium
	}
	ratio := deviation / std
	switch {
	case ratio >= 5.0:
		return SeverityCritical
	case ratio >= 4.0:
		return SeverityHigh
	case ratio >= 3.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

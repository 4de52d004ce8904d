// Package planner turns a baseline workload and the operator's answers into
// the configuration a load test runs with.
package planner

import (
	"math"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"loadpilot/internal/workload"
)

// TestType selects how long a test runs and how load is applied.
type TestType string

const (
	Load      TestType = "load"
	Stress    TestType = "stress"
	Endurance TestType = "endurance"
)

// TestTypes lists the selectable types in prompt order.
var TestTypes = []TestType{Load, Stress, Endurance}

// Title is the label shown when choosing a test type.
func (t TestType) Title() string {
	switch t {
	case Load:
		return "Load Test (1 hour)"
	case Stress:
		return "Stress Test (find breakpoint)"
	case Endurance:
		return "Endurance Test (6 hours)"
	default:
		return string(t)
	}
}

// Durations in seconds per test type.
const (
	LoadDuration      = 3600
	EnduranceDuration = 21600
	StressDuration    = 600
	DefaultDuration   = 60
)

// DefaultURL is offered when the operator gives no target.
const DefaultURL = "http://localhost:5173"

var (
	ErrInvalidPercentage = errors.New("percentage must be greater than 0")
	ErrInvalidURL        = errors.New("url must be an absolute http(s) URL")
)

// Answers is what the operator chooses after seeing the baseline.
type Answers struct {
	URL        string   `json:"url"`
	Percentage float64  `json:"percentage"`
	TestType   TestType `json:"testType"`
}

// TestConfig is the persisted input of the load test.
type TestConfig struct {
	URL             string   `json:"url"`
	TestType        TestType `json:"testType"`
	DurationSeconds int      `json:"duration"`
	Connections     int      `json:"connections"`
	TargetTPS       float64  `json:"targetTps"`
}

// DurationFor returns the fixed run length of a test type. Unknown types get a one minute run.
func DurationFor(t TestType) int {
	switch t {
	case Load:
		return LoadDuration
	case Endurance:
		return EnduranceDuration
	case Stress:
		return StressDuration
	default:
		return DefaultDuration
	}
}

// ConnectionsFor is ceil(tps), never below one: a generator with zero
// connections sends nothing, so a near-idle baseline still gets one.
func ConnectionsFor(tps float64) int {
	c := int(math.Ceil(tps))
	if c < 1 {
		return 1
	}
	return c
}

// ValidatePercentage rejects non-positive (and NaN) percentages.
func ValidatePercentage(p float64) error {
	if !(p > 0) || math.IsInf(p, 0) {
		return ErrInvalidPercentage
	}
	return nil
}

// ValidateURL requires an absolute http or https URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidURL, err.Error())
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Wrapf(ErrInvalidURL, "%q", raw)
	}
	return u, nil
}

// Derive computes the test configuration: target TPS is the chosen share of
// the baseline, connections follow the target and duration follows the type.
func Derive(baseline workload.Baseline, a Answers) (TestConfig, error) {
	if err := ValidatePercentage(a.Percentage); err != nil {
		return TestConfig{}, err
	}
	u, err := ValidateURL(a.URL)
	if err != nil {
		return TestConfig{}, err
	}

	target := baseline.TPS * (a.Percentage / 100)
	return TestConfig{
		URL:             u.String(),
		TestType:        a.TestType,
		DurationSeconds: DurationFor(a.TestType),
		Connections:     ConnectionsFor(target),
		TargetTPS:       workload.Round2(target),
	}, nil
}

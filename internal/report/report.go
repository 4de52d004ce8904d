// Package report renders a Markdown summary of a finished load test.
package report

import (
	"bytes"
	"context"
	"io"
	"text/template"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"loadpilot/internal/driver"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
)

const (
	StageName = "reporting"
	FileName  = "performance-report.md"

	// P99ThresholdMs is the p99 latency above which a run is flagged.
	P99ThresholdMs = 1000
)

// Findings are the observations drawn from a result.
type Findings struct {
	HighLatency bool
	HasErrors   bool
}

func (f Findings) Clean() bool { return !f.HighLatency && !f.HasErrors }

func Assess(res driver.TestResult) Findings {
	return Findings{
		HighLatency: res.Latency.P99 > P99ThresholdMs,
		HasErrors:   res.Errors > 0,
	}
}

type view struct {
	Config   planner.TestConfig
	Result   driver.TestResult
	Findings Findings
	DataMB   float64
}

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

// Render writes the report for cfg and res to w.
func Render(w io.Writer, cfg planner.TestConfig, res driver.TestResult) error {
	v := view{
		Config:   cfg,
		Result:   res,
		Findings: Assess(res),
		DataMB:   float64(res.ThroughputBytes) / 1024 / 1024,
	}
	return errors.Wrap(tmpl.Execute(w, v), "render report")
}

// Stage reads the config and result artifacts and writes the report next to
// them.
type Stage struct{}

func (Stage) Name() string { return StageName }

func (Stage) Run(_ context.Context, env pipeline.Env) error {
	cfg, err := planner.LoadConfig(env.Store)
	if err != nil {
		return err
	}
	res, err := driver.LoadResult(env.Store)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := Render(&buf, cfg, res); err != nil {
		return err
	}
	if err := env.Store.WriteFile(FileName, buf.Bytes()); err != nil {
		return err
	}

	f := Assess(res)
	env.Logger.Info("markdown report saved",
		zap.String("file", FileName),
		zap.Bool("highLatency", f.HighLatency),
		zap.Bool("errors", f.HasErrors),
	)
	return nil
}

const reportTemplate = `# Performance Test Report

## 1. Summary

The test execution for **{{.Config.URL}}** has completed. The test was conducted as a **'{{.Config.TestType}}'** test.

The system handled an average of **{{printf "%.2f" .Result.AverageRPS}} requests/second** over a duration of **{{printf "%.2f" .Result.DurationSeconds}}s**.

{{if .Findings.Clean -}}
**Initial Observations:** The system performed within expected parameters for this test.
{{- else -}}
**Initial Observations:**
{{- if .Findings.HighLatency}}
- **High Latency Detected:** The 99th percentile latency is over 1000ms, which may indicate performance bottlenecks under load.
{{- end}}
{{- if .Findings.HasErrors}}
- **Errors Encountered:** The test recorded {{.Result.Errors}} errors, which needs investigation.
{{- end}}
{{- end}}

## 2. Test Configuration

| Parameter | Value |
|---|---|
| Target URL | {{.Config.URL}} |
| Test Type | {{.Config.TestType}} |
| Intended Duration | {{.Config.DurationSeconds}}s |
| Connections | {{.Config.Connections}} |
| Target TPS | {{.Config.TargetTPS}} |

## 3. Detailed Results

### Throughput
| Metric | Value |
|---|---|
| Total Requests | {{.Result.TotalRequests}} |
| Average RPS | {{printf "%.2f" .Result.AverageRPS}} |
| Total Data | {{printf "%.2f" .DataMB}} MB |

### Latency (ms)
| Metric | Value |
|---|---|
| Average | {{printf "%.2f" .Result.Latency.Average}} |
| Min | {{printf "%.2f" .Result.Latency.Min}} |
| Max | {{printf "%.2f" .Result.Latency.Max}} |
| p50 | {{printf "%.2f" .Result.Latency.P50}} |
| p90 | {{printf "%.2f" .Result.Latency.P90}} |
| p99 | {{printf "%.2f" .Result.Latency.P99}} |

### Errors
| Type | Count |
|---|---|
| Total Errors | {{.Result.Errors}} |
| Timeouts | {{.Result.Timeouts}} |
| Non-2xx Responses | {{.Result.Non2xx}} |

## 4. Recommendations

{{if .Findings.HasErrors -}}
- **Investigate Errors:** Analyze server-side logs at the time of the test to identify the root cause of the {{.Result.Errors}} errors.
{{end -}}
{{if .Findings.HighLatency -}}
- **Analyze High Latency:** Profile the application to understand the cause of the high p99 latency. Look for slow database queries, inefficient code, or resource contention.
{{end -}}
{{if .Findings.Clean -}}
- **All Good:** Performance appears stable based on this test. Consider increasing the load or running a longer endurance test to check for stability over time.
{{end -}}
`

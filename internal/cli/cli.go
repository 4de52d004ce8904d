// Package cli prints a live progress line while a load run is active and a
// summary once it is done.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"loadpilot/internal/driver"
	"loadpilot/internal/runner"
	"loadpilot/internal/stats"
	"loadpilot/internal/styles"
)

const (
	tickInterval   = 200 * time.Millisecond
	sparklineWidth = 24
)

// Monitor returns a driver.Monitor that redraws a progress line on out every
// tick until the run ends.
func Monitor(out io.Writer) driver.Monitor {
	return func(ctx context.Context, g driver.Generator, cfg runner.Config) {
		printHeader(out, cfg)

		bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(20), progress.WithoutPercentage())
		trend := NewSparkline(sparklineWidth, styles.Active)
		start := time.Now()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		var last uint64
		for {
			select {
			case <-ctx.Done():
				fmt.Fprintln(out, Line(bar, 1, time.Since(start), cfg.Duration, g.Concurrency(), g.Inflight(), g.Snapshot())+" "+trend.View())
				return
			case <-ticker.C:
				elapsed := time.Since(start)
				snap := g.Snapshot()
				// requests completed during this tick
				trend.Add(snap.Requests - last)
				last = snap.Requests
				fmt.Fprint(out, Line(bar, fraction(elapsed, cfg.Duration), elapsed, cfg.Duration, g.Concurrency(), g.Inflight(), snap)+" "+trend.View())
			}
		}
	}
}

func fraction(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	pct := elapsed.Seconds() / total.Seconds()
	if pct > 1.0 {
		pct = 1.0
	}
	return pct
}

// Line renders one progress line.
func Line(bar progress.Model, pct float64, elapsed, total time.Duration, conns int, inflight int64, s stats.Snapshot) string {
	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(s.Requests) / elapsed.Seconds()
	}
	return fmt.Sprintf("\r%s %3.0f%% | %s/%s | Conns: %3d | Inflight: %3d | RPS: %.1f | OK: %d | Non2xx: %d | Err: %d (%.1f%%)",
		bar.ViewAs(pct), pct*100,
		elapsed.Round(time.Second), total,
		conns,
		inflight,
		rps,
		s.Success,
		s.Non2xx,
		s.Errors,
		s.ErrorRate,
	)
}

func printHeader(out io.Writer, cfg runner.Config) {
	fmt.Fprintf(out, "\nSTARTING LOAD TEST\n")
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Target URL  : %s\n", cfg.URL)
	fmt.Fprintf(out, "Connections : %d\n", cfg.Connections)
	fmt.Fprintf(out, "Duration    : %s\n", cfg.Duration)
	fmt.Fprintf(out, "======================================================================\n\n")
}

// PrintSummary writes the final numbers of a run.
func PrintSummary(out io.Writer, res driver.TestResult) {
	fmt.Fprintf(out, "\nLOAD TEST RESULTS\n")
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Total Duration : %.2fs\n", res.DurationSeconds)
	fmt.Fprintf(out, "Requests       : %d\n", res.TotalRequests)
	fmt.Fprintf(out, "Average RPS    : %.2f\n", res.AverageRPS)
	fmt.Fprintf(out, "Errors         : %d (timeouts %d)\n", res.Errors, res.Timeouts)
	fmt.Fprintf(out, "Non-2xx        : %d\n", res.Non2xx)
	fmt.Fprintf(out, "\nRESPONSE TIMES (ms)\n")
	fmt.Fprintf(out, "   Min : %.2f\n", res.Latency.Min)
	fmt.Fprintf(out, "   P50 : %.2f\n", res.Latency.P50)
	fmt.Fprintf(out, "   P90 : %.2f\n", res.Latency.P90)
	fmt.Fprintf(out, "   P99 : %.2f\n", res.Latency.P99)
	fmt.Fprintf(out, "   Max : %.2f\n", res.Latency.Max)
	fmt.Fprintf(out, "======================================================================\n")
}

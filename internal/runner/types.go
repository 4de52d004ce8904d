package runner

import (
	"time"

	"loadpilot/internal/stats"
)

type Config struct {
	URL         string
	Method      string
	Connections int
	Duration    time.Duration
	Timeout     time.Duration

	// MaxRPS caps the aggregate request rate across all connections. Zero
	// leaves the closed loop unpaced.
	MaxRPS float64

	// Insecure skips TLS verification, for targets with self-signed certs.
	Insecure bool
}

// Outcome is emitted once per run on Done.
type Outcome struct {
	Stats     stats.Snapshot
	StartedAt time.Time
	Elapsed   time.Duration
	Err       error
}

// Package workload derives a baseline throughput from production timestamps.
package workload

import (
	"encoding/csv"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// ErrEmptyInput signals a log with no transactions in it.
var ErrEmptyInput = errors.New("no data found in logs")

// TimestampColumn is the header the log must carry.
const TimestampColumn = "timestamp"

// Baseline is the observed throughput over the log's time window.
type Baseline struct {
	TotalEvents   int     `json:"totalTransactions"`
	WindowSeconds float64 `json:"durationInSeconds"`
	TPS           float64 `json:"tps"`
	TPM           float64 `json:"tpm"`
}

// Rounded returns a copy with the float fields rounded to two decimals,
// which is how the baseline is persisted and shown.
func (b Baseline) Rounded() Baseline {
	return Baseline{
		TotalEvents:   b.TotalEvents,
		WindowSeconds: Round2(b.WindowSeconds),
		TPS:           Round2(b.TPS),
		TPM:           Round2(b.TPM),
	}
}

// Analyze sorts series ascending in place and computes the baseline.
// A window of zero length yields zero throughput rather than an error.
func Analyze(series []time.Time) (Baseline, error) {
	if len(series) == 0 {
		return Baseline{}, ErrEmptyInput
	}

	sort.Slice(series, func(i, j int) bool {
		return series[i].Before(series[j])
	})

	window := series[len(series)-1].Sub(series[0]).Seconds()
	b := Baseline{
		TotalEvents:   len(series),
		WindowSeconds: window,
	}
	if window > 0 {
		b.TPS = float64(b.TotalEvents) / window
	}
	b.TPM = b.TPS * 60
	return b, nil
}

// ReadTimestamps parses a CSV log with a header row containing a timestamp column.
func ReadTimestamps(r io.Reader) ([]time.Time, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), TimestampColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, errors.Errorf("header has no %q column", TimestampColumn)
	}

	var series []time.Time
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		line, _ := reader.FieldPos(0)
		if col >= len(record) {
			return nil, errors.Errorf("line %d: missing %s value", line, TimestampColumn)
		}
		ts, err := cast.ToTimeE(strings.TrimSpace(record[col]))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		series = append(series, ts)
	}
	return series, nil
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

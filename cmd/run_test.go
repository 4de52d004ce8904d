package cmd

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loadpilot/internal/artifact"
	"loadpilot/internal/config"
	"loadpilot/internal/driver"
	"loadpilot/internal/metrics"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
	"loadpilot/internal/prompt"
	"loadpilot/internal/report"
	"loadpilot/internal/workload"
)

func testApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	conf = config.Config{Dir: dir, Logs: "production-logs.csv"}
	store, err := artifact.NewStore(dir)
	require.NoError(t, err)
	return &app{log: zap.NewNop(), store: store, metrics: metrics.New(), out: &bytes.Buffer{}}
}

func TestIsolateKeepsDerivationInProcess(t *testing.T) {
	testApp(t)
	stages := []pipeline.Stage{
		workload.Stage{Source: "x.csv"},
		derivation(prompt.Static{}),
		driver.Stage{},
		report.Stage{},
	}

	out, err := isolate(stages)
	require.NoError(t, err)
	require.Len(t, out, 4)

	_, inProcess := out[1].(planner.Stage)
	assert.True(t, inProcess)

	for _, i := range []int{0, 2, 3} {
		exec, ok := out[i].(*pipeline.ExecStage)
		require.True(t, ok, stages[i].Name())
		assert.Equal(t, stages[i].Name(), exec.Name())
		assert.Equal(t, []string{"agent", stages[i].Name(), "--dir", conf.Dir, "--logs", conf.Logs}, exec.Args)
	}
}

func TestIsolateForwardsInsecure(t *testing.T) {
	testApp(t)
	conf.Insecure = true

	out, err := isolate([]pipeline.Stage{driver.Stage{}})
	require.NoError(t, err)
	assert.Contains(t, out[0].(*pipeline.ExecStage).Args, "--insecure")
}

func TestStageByName(t *testing.T) {
	a := testApp(t)
	for _, name := range []string{workload.StageName, driver.StageName, report.StageName} {
		s, err := stageByName(a, name)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}

	_, err := stageByName(a, planner.StageName)
	assert.ErrorContains(t, err, "unknown stage")
}

func TestPrompterUsesFlags(t *testing.T) {
	require.NoError(t, runCmd.Flags().Set("url", "http://localhost:9000/"))
	require.NoError(t, runCmd.Flags().Set("percentage", "25"))
	require.NoError(t, runCmd.Flags().Set("type", "stress"))

	p, ok := prompter(runCmd).(prompt.Static)
	require.True(t, ok)
	assert.Equal(t, planner.Answers{URL: "http://localhost:9000/", Percentage: 25, TestType: planner.Stress}, p.Answers)
}

func TestSaveHistory(t *testing.T) {
	a := testApp(t)
	conf.History.Path = filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, a.store.Write(artifact.TestConfig, planner.TestConfig{URL: "http://localhost/", TestType: planner.Load, Connections: 2}))

	run := &pipeline.Run{ID: "run-1", Status: pipeline.StatusFailed}
	saveHistory(a, run)

	_, err := os.Stat(conf.History.Path)
	require.NoError(t, err)

	var buf bytes.Buffer
	historyCmd.SetOut(&buf)
	require.NoError(t, historyCmd.RunE(historyCmd, []string{"run-1"}))
	assert.Contains(t, buf.String(), "run run-1: failed")
	assert.Contains(t, buf.String(), "http://localhost/")
}

func TestRunSingleFailurePrintsBanner(t *testing.T) {
	a := testApp(t)
	boom := pipeline.Func(workload.StageName, func(context.Context, pipeline.Env) error {
		return errors.New("no such file")
	})

	err := a.runSingle(context.Background(), boom, func(*app) error {
		t.Fatal("after must not run on failure")
		return nil
	})

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	out := a.out.(*bytes.Buffer).String()
	assert.Contains(t, out, "Orchestration Failed")
	assert.Contains(t, out, workload.StageName)
	assert.Contains(t, out, "no such file")
}

func TestRunSingleSuccessRunsAfter(t *testing.T) {
	a := testApp(t)
	ok := pipeline.Func(report.StageName, func(context.Context, pipeline.Env) error { return nil })

	called := false
	require.NoError(t, a.runSingle(context.Background(), ok, func(*app) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.NotContains(t, a.out.(*bytes.Buffer).String(), "Orchestration Failed")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestMetricsServedOnlyWhenAsked(t *testing.T) {
	testApp(t)
	conf.Metrics.Addr = freeAddr(t)

	// what an agent does: build the app, never serve
	a, err := newApp()
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	_, err = net.DialTimeout("tcp", conf.Metrics.Addr, time.Second)
	assert.Error(t, err, "nothing may listen on metrics.addr")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.serveMetrics(ctx)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + conf.Metrics.Addr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
}

package testplan

import (
	"encoding/xml"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadpilot/internal/artifact"
	"loadpilot/internal/planner"
)

func TestFromConfig(t *testing.T) {
	plan, err := FromConfig(planner.TestConfig{
		URL:             "https://shop.example.com/checkout",
		DurationSeconds: 600,
		TargetTPS:       94.2,
	})
	require.NoError(t, err)

	assert.Equal(t, Plan{
		Domain:     "shop.example.com",
		Port:       "443",
		Protocol:   "https",
		Path:       "/checkout",
		Threads:    95,
		RampTime:   10,
		Duration:   600,
		Throughput: 5700,
	}, plan)
}

func TestFromConfigDefaults(t *testing.T) {
	plan, err := FromConfig(planner.TestConfig{URL: "http://localhost", TargetTPS: 0})
	require.NoError(t, err)
	assert.Equal(t, "80", plan.Port)
	assert.Equal(t, "/", plan.Path)
	assert.Equal(t, 1, plan.Threads)
	assert.Equal(t, 1, plan.RampTime)

	plan, err = FromConfig(planner.TestConfig{URL: "https://example.com", TargetTPS: 1})
	require.NoError(t, err)
	assert.Equal(t, "443", plan.Port)
	assert.Equal(t, "https", plan.Protocol)

	plan, err = FromConfig(planner.TestConfig{URL: "http://localhost:9000/x", TargetTPS: 3})
	require.NoError(t, err)
	assert.Equal(t, "9000", plan.Port)

	plan, err = FromConfig(planner.TestConfig{URL: planner.DefaultURL})
	require.NoError(t, err)
	assert.Equal(t, "5173", plan.Port)
}

func TestFromConfigRejectsHostless(t *testing.T) {
	_, err := FromConfig(planner.TestConfig{URL: "/just/a/path"})
	assert.Error(t, err)
}

func TestRenderIsWellFormedXML(t *testing.T) {
	var b strings.Builder
	err := Render(&b, planner.TestConfig{
		URL:             "http://localhost:8080/search?q=a&b=c",
		DurationSeconds: 3600,
		TargetTPS:       5,
	})
	require.NoError(t, err)

	out := b.String()
	assert.Contains(t, out, `<stringProp name="ThreadGroup.num_threads">5</stringProp>`)
	assert.Contains(t, out, `<stringProp name="ThreadGroup.duration">3600</stringProp>`)
	assert.Contains(t, out, `<value>300.0</value>`)
	assert.Contains(t, out, `/search?q=a&amp;b=c`)

	dec := xml.NewDecoder(strings.NewReader(out))
	for {
		_, err := dec.Token()
		if err != nil {
			assert.EqualError(t, err, "EOF")
			break
		}
	}
}

func TestProjectWritesIntoStore(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, Project(store, planner.TestConfig{URL: "http://localhost:5173", DurationSeconds: 60, TargetTPS: 2}))

	data, err := os.ReadFile(store.Dir() + "/" + FileName)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `<?xml version="1.0"`))
}

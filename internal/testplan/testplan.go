// Package testplan renders a JMeter test plan equivalent to a TestConfig so
// the same workload can be replayed by external tooling.
package testplan

import (
	"bytes"
	"encoding/xml"
	"io"
	"math"
	"net/url"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"loadpilot/internal/artifact"
	"loadpilot/internal/planner"
)

// FileName is the plan written next to the JSON artifacts.
const FileName = "generated-test.jmx"

// Plan holds the values substituted into the template.
type Plan struct {
	Domain     string
	Port       string
	Protocol   string
	Path       string
	Threads    int
	RampTime   int
	Duration   int
	Throughput float64
}

// FromConfig maps a TestConfig onto a thread-group plan: one thread per
// target transaction per second, ramping over a tenth of the thread count.
func FromConfig(cfg planner.TestConfig) (Plan, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return Plan{}, errors.Wrap(err, "parse target url")
	}
	if u.Hostname() == "" {
		return Plan{}, errors.Errorf("target url %q has no host", cfg.URL)
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	threads := planner.ConnectionsFor(cfg.TargetTPS)
	return Plan{
		Domain:     u.Hostname(),
		Port:       port,
		Protocol:   u.Scheme,
		Path:       path,
		Threads:    threads,
		RampTime:   int(math.Ceil(float64(threads) / 10)),
		Duration:   cfg.DurationSeconds,
		Throughput: float64(threads * 60),
	}, nil
}

var tmpl = template.Must(template.New("jmx").Funcs(template.FuncMap{
	"xml": escape,
}).Parse(jmxTemplate))

func escape(v any) (string, error) {
	var b strings.Builder
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("xml: unsupported value %T", v)
	}
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Render writes the plan for cfg to w.
func Render(w io.Writer, cfg planner.TestConfig) error {
	plan, err := FromConfig(cfg)
	if err != nil {
		return err
	}
	return errors.Wrap(tmpl.Execute(w, plan), "render test plan")
}

// Project renders the plan into the store directory. It matches
// planner.Projection.
func Project(store *artifact.Store, cfg planner.TestConfig) error {
	var buf bytes.Buffer
	if err := Render(&buf, cfg); err != nil {
		return err
	}
	return store.WriteFile(FileName, buf.Bytes())
}

const jmxTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<jmeterTestPlan version="1.2" properties="5.0" jmeter="5.4.1">
  <hashTree>
    <TestPlan guiclass="TestPlanGui" testclass="TestPlan" testname="Generated Test Plan" enabled="true">
      <stringProp name="TestPlan.comments"></stringProp>
      <boolProp name="TestPlan.functional_mode">false</boolProp>
      <boolProp name="TestPlan.tearDown_on_shutdown">true</boolProp>
      <boolProp name="TestPlan.serialize_threadgroups">false</boolProp>
      <elementProp name="TestPlan.user_defined_variables" elementType="Arguments" guiclass="ArgumentsPanel" testclass="Arguments" testname="User Defined Variables" enabled="true">
        <collectionProp name="Arguments.arguments"/>
      </elementProp>
      <stringProp name="TestPlan.user_define_classpath"></stringProp>
    </TestPlan>
    <hashTree>
      <ThreadGroup guiclass="ThreadGroupGui" testclass="ThreadGroup" testname="Thread Group" enabled="true">
        <stringProp name="ThreadGroup.on_sample_error">continue</stringProp>
        <elementProp name="ThreadGroup.main_controller" elementType="LoopController" guiclass="LoopControlPanel" testclass="LoopController" testname="Loop Controller" enabled="true">
          <boolProp name="LoopController.continue_forever">false</boolProp>
          <intProp name="LoopController.loops">-1</intProp>
        </elementProp>
        <stringProp name="ThreadGroup.num_threads">{{.Threads}}</stringProp>
        <stringProp name="ThreadGroup.ramp_time">{{.RampTime}}</stringProp>
        <boolProp name="ThreadGroup.scheduler">true</boolProp>
        <stringProp name="ThreadGroup.duration">{{.Duration}}</stringProp>
        <stringProp name="ThreadGroup.delay"></stringProp>
        <boolProp name="ThreadGroup.same_user_on_next_iteration">true</boolProp>
      </ThreadGroup>
      <hashTree>
        <HTTPSamplerProxy guiclass="HttpTestSampleGui" testclass="HTTPSamplerProxy" testname="HTTP Request" enabled="true">
          <elementProp name="HTTPsampler.Arguments" elementType="Arguments" guiclass="HTTPArgumentsPanel" testclass="Arguments" testname="User Defined Variables" enabled="true">
            <collectionProp name="Arguments.arguments"/>
          </elementProp>
          <stringProp name="HTTPSampler.domain">{{xml .Domain}}</stringProp>
          <stringProp name="HTTPSampler.port">{{xml .Port}}</stringProp>
          <stringProp name="HTTPSampler.protocol">{{xml .Protocol}}</stringProp>
          <stringProp name="HTTPSampler.contentEncoding"></stringProp>
          <stringProp name="HTTPSampler.path">{{xml .Path}}</stringProp>
          <stringProp name="HTTPSampler.method">GET</stringProp>
          <boolProp name="HTTPSampler.follow_redirects">true</boolProp>
          <boolProp name="HTTPSampler.auto_redirects">false</boolProp>
          <boolProp name="HTTPSampler.use_keepalive">true</boolProp>
          <boolProp name="HTTPSampler.DO_MULTIPART_POST">false</boolProp>
          <stringProp name="HTTPSampler.embedded_url_re"></stringProp>
          <stringProp name="HTTPSampler.connect_timeout"></stringProp>
          <stringProp name="HTTPSampler.response_timeout"></stringProp>
        </HTTPSamplerProxy>
        <hashTree/>
        <ConstantThroughputTimer guiclass="TestBeanGUI" testclass="ConstantThroughputTimer" testname="Constant Throughput Timer" enabled="true">
          <doubleProp>
            <name>throughput</name>
            <value>{{printf "%.1f" .Throughput}}</value>
            <savedValue>0.0</savedValue>
          </doubleProp>
          <intProp name="calcMode">1</intProp>
        </ConstantThroughputTimer>
        <hashTree/>
      </hashTree>
    </hashTree>
  </hashTree>
</jmeterTestPlan>
`

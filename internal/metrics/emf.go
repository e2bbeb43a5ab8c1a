// Package metrics writes CloudWatch Embedded Metric Format (EMF) lines.
// EMF metrics are single JSON lines on a log stream; the CloudWatch agent
// (or Lambda log ingestion) extracts them without any API calls.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Namespace is the CloudWatch namespace used by the relay.
const Namespace = "MediaRelay"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Sink serializes EMF documents onto one writer. Lines from concurrent
// recorders never interleave. A nil *Sink discards everything.
type Sink struct {
	mu        sync.Mutex
	w         io.Writer
	namespace string
	service   string
}

// NewSink creates a Sink writing to w. If w is nil, stdout is used.
// service becomes the Service dimension on every document when non-empty.
func NewSink(w io.Writer, namespace, service string) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{w: w, namespace: namespace, service: service}
}

// Recorder accumulates dimensions, metrics and properties for one document.
// It is NOT safe for concurrent use; create one per operation.
type Recorder struct {
	sink       *Sink
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]interface{}
	properties map[string]interface{}
}

// New starts a Recorder on the sink. Calling New on a nil Sink returns a
// Recorder whose Flush is a no-op.
func (s *Sink) New() *Recorder {
	r := &Recorder{
		sink:       s,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]interface{}),
		properties: make(map[string]interface{}),
	}
	if s != nil && s.service != "" {
		r.dimensions["Service"] = s.service
	}
	return r
}

// Dimension adds an indexed dimension.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named value. Use the Unit* constants.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count metric with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a non-metric field, searchable in Logs Insights.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the document as a single line. The Recorder should not be
// reused afterwards.
func (r *Recorder) Flush() {
	if r.sink == nil || len(r.metrics) == 0 {
		return
	}

	doc := make(map[string]interface{})

	metricDefs := make([]metricDef, 0, len(r.metrics))
	for _, m := range r.metrics {
		metricDefs = append(metricDefs, m)
	}
	sort.Slice(metricDefs, func(i, j int) bool { return metricDefs[i].Name < metricDefs[j].Name })

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.sink.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal EMF document")
		return
	}
	data = append(data, '\n')

	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	if _, err := r.sink.w.Write(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write EMF document")
	}
}

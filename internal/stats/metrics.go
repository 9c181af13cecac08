// Package stats aggregates executor, request, and assignment snapshots
// into system-level figures and keeps a small counter/gauge registry for
// the metrics endpoints.
package stats

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Sample is one recorded value in a metric's history.
type Sample struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

const historyLimit = 100

// Registry holds named counters and gauges plus a bounded per-key value
// history. Keys are rendered name{k=v,...} with label keys sorted.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]int64
	gauges   map[string]float64
	history  map[string][]Sample
}

func NewRegistry() *Registry {
	return &Registry{
		counters: map[string]int64{},
		gauges:   map[string]float64{},
		history:  map[string][]Sample{},
	}
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

func (r *Registry) Inc(name string, labels map[string]string) {
	r.Add(name, labels, 1)
}

func (r *Registry) Add(name string, labels map[string]string, delta int64) {
	key := metricKey(name, labels)
	r.mu.Lock()
	r.counters[key] += delta
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	key := metricKey(name, labels)
	r.mu.Lock()
	r.gauges[key] = value
	r.mu.Unlock()
}

// Record appends a sample to the key's history, dropping the oldest once
// the bound is reached.
func (r *Registry) Record(name string, labels map[string]string, value float64) {
	key := metricKey(name, labels)
	sample := Sample{Value: value, At: time.Now().UTC()}
	r.mu.Lock()
	samples := append(r.history[key], sample)
	if len(samples) > historyLimit {
		samples = samples[len(samples)-historyLimit:]
	}
	r.history[key] = samples
	r.mu.Unlock()
}

// Summary is the counters-and-gauges snapshot served by the metrics
// endpoint.
type Summary struct {
	Counters  map[string]int64   `json:"counters"`
	Gauges    map[string]float64 `json:"gauges"`
	Timestamp time.Time          `json:"timestamp"`
}

func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counters := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(r.gauges))
	for k, v := range r.gauges {
		gauges[k] = v
	}
	return Summary{Counters: counters, Gauges: gauges, Timestamp: time.Now().UTC()}
}

func (r *Registry) History(name string, labels map[string]string) []Sample {
	key := metricKey(name, labels)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Sample(nil), r.history[key]...)
}

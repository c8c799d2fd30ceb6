package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string, float64)       {}
func (Nop) SetGauge(string, map[string]string, float64)         {}
func (Nop) ObserveHistogram(string, map[string]string, float64) {}

type summary struct {
	count    uint64
	sum      float64
	min, max float64
}

// Memory keeps the latest values in memory and renders them in the Prometheus text format.
type Memory struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*summary
}

func NewMemory() *Memory {
	return &Memory{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*summary),
	}
}

func (m *Memory) IncCounter(name string, labels map[string]string, delta float64) {
	k := seriesKey(name, labels)
	m.mu.Lock()
	m.counters[k] += delta
	m.mu.Unlock()
}

func (m *Memory) SetGauge(name string, labels map[string]string, value float64) {
	k := seriesKey(name, labels)
	m.mu.Lock()
	m.gauges[k] = value
	m.mu.Unlock()
}

func (m *Memory) ObserveHistogram(name string, labels map[string]string, value float64) {
	k := seriesKey(name, labels)
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.histograms[k]
	if !ok {
		s = &summary{min: value, max: value}
		m.histograms[k] = s
	}
	s.count++
	s.sum += value
	s.min = min(s.min, value)
	s.max = max(s.max, value)
}

// Counter returns the current value of a counter series.
func (m *Memory) Counter(name string, labels map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[seriesKey(name, labels)]
}

// Gauge returns the current value of a gauge series.
func (m *Memory) Gauge(name string, labels map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[seriesKey(name, labels)]
}

// WriteText renders every series, sorted by name.
func (m *Memory) WriteText(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lines []string
	for k, v := range m.counters {
		lines = append(lines, fmt.Sprintf("%s %g", k, v))
	}
	for k, v := range m.gauges {
		lines = append(lines, fmt.Sprintf("%s %g", k, v))
	}
	for k, s := range m.histograms {
		name, labels, _ := strings.Cut(k, "{")
		if labels != "" {
			labels = "{" + labels
		}
		lines = append(lines,
			fmt.Sprintf("%s_count%s %d", name, labels, s.count),
			fmt.Sprintf("%s_sum%s %g", name, labels, s.sum),
			fmt.Sprintf("%s_min%s %g", name, labels, s.min),
			fmt.Sprintf("%s_max%s %g", name, labels, s.max),
		)
	}
	sort.Strings(lines)

	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// seriesKey renders name{k="v",...} with labels sorted by key.
func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Package metrics2 wraps github.com/prometheus/client_golang into a small
// Counter API (each counter exported as a Prometheus gauge), so the rest
// of the module never imports prometheus directly.
package metrics2

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// clean turns a dotted metric name into a Prometheus-legal one.
func clean(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// Counter is a concurrency-safe counter (incremented, decremented or reset) exported
// as a Prometheus gauge vector, one time series per distinct tag set.
type Counter interface {
	Inc(delta int64)
	Dec(delta int64)
	Reset()
	Get() int64
}

type counter struct {
	vec    *prometheus.GaugeVec
	labels prometheus.Labels
	mu     sync.Mutex
	value  int64
}

func (c *counter) Inc(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += delta
	c.vec.With(c.labels).Set(float64(c.value))
}

func (c *counter) Dec(delta int64) {
	c.Inc(-delta)
}

func (c *counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = 0
	c.vec.With(c.labels).Set(0)
}

func (c *counter) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Client owns a set of named counters, deduplicated by name+sorted-tags.
type Client struct {
	reg      prometheus.Registerer
	mu       sync.Mutex
	vecs     map[string]*prometheus.GaugeVec
	counters map[string]*counter
}

// New returns a Client registered against reg. Pass prometheus.DefaultRegisterer
// in production; tests should pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Client {
	return &Client{
		reg:      reg,
		vecs:     map[string]*prometheus.GaugeVec{},
		counters: map[string]*counter{},
	}
}

// GetCounter returns (creating if necessary) the counter identified by
// name and tags. Calling it again with the same name and tags returns the
// same Counter instance.
func (c *Client) GetCounter(name string, tags map[string]string) Counter {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleanName := clean(name)
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sortStrings(keys)

	vecKey := cleanName
	if len(keys) > 0 {
		vecKey = cleanName + " [" + strings.Join(keys, " ") + "]"
	}
	vec, ok := c.vecs[vecKey]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: cleanName}, keys)
		c.reg.MustRegister(vec)
		c.vecs[vecKey] = vec
	}

	ctrKey := cleanName
	for _, k := range keys {
		ctrKey += "-" + k + "-" + tags[k]
	}
	ctr, ok := c.counters[ctrKey]
	if !ok {
		ctr = &counter{vec: vec, labels: prometheus.Labels(tags)}
		c.counters[ctrKey] = ctr
	}
	return ctr
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

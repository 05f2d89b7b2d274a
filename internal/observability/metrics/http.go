package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type errorKey struct {
	handler string
	method  string
}

type latencyKey struct {
	handler string
	method  string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	errors   map[errorKey]uint64
	latency  map[latencyKey]*histogram
}

var httpCollector = &collector{
	requests: make(map[requestKey]uint64),
	errors:   make(map[errorKey]uint64),
	latency:  make(map[latencyKey]*histogram),
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpCollector.observe(handler, method, status, duration)
}

func (c *collector) observe(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqKey := requestKey{handler: handler, method: method, code: strconv.Itoa(status)}
	c.requests[reqKey]++
	if status >= 500 {
		c.errors[errorKey{handler: handler, method: method}]++
	}

	latKey := latencyKey{handler: handler, method: method}
	hist := c.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		c.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
	// Values above the last bound only count towards the +Inf bucket,
	// which is derived from h.count at render time.
}

// Handler exposes the collected metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("# HELP provchain_http_requests_total Total HTTP requests by handler, method and status code.\n")
	sb.WriteString("# TYPE provchain_http_requests_total counter\n")
	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].handler != reqKeys[j].handler {
			return reqKeys[i].handler < reqKeys[j].handler
		}
		if reqKeys[i].method != reqKeys[j].method {
			return reqKeys[i].method < reqKeys[j].method
		}
		return reqKeys[i].code < reqKeys[j].code
	})
	for _, key := range reqKeys {
		fmt.Fprintf(&sb, "provchain_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
			key.handler, key.method, key.code, c.requests[key])
	}

	sb.WriteString("# HELP provchain_http_errors_total Total HTTP 5xx responses by handler and method.\n")
	sb.WriteString("# TYPE provchain_http_errors_total counter\n")
	errKeys := make([]errorKey, 0, len(c.errors))
	for key := range c.errors {
		errKeys = append(errKeys, key)
	}
	sort.Slice(errKeys, func(i, j int) bool {
		if errKeys[i].handler != errKeys[j].handler {
			return errKeys[i].handler < errKeys[j].handler
		}
		return errKeys[i].method < errKeys[j].method
	})
	for _, key := range errKeys {
		fmt.Fprintf(&sb, "provchain_http_errors_total{handler=%q,method=%q} %d\n",
			key.handler, key.method, c.errors[key])
	}

	sb.WriteString("# HELP provchain_http_request_duration_seconds HTTP request latency by handler and method.\n")
	sb.WriteString("# TYPE provchain_http_request_duration_seconds histogram\n")
	latKeys := make([]latencyKey, 0, len(c.latency))
	for key := range c.latency {
		latKeys = append(latKeys, key)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].handler != latKeys[j].handler {
			return latKeys[i].handler < latKeys[j].handler
		}
		return latKeys[i].method < latKeys[j].method
	})
	for _, key := range latKeys {
		hist := c.latency[key]
		for idx, bound := range hist.buckets {
			fmt.Fprintf(&sb, "provchain_http_request_duration_seconds_bucket{handler=%q,method=%q,le=%q} %d\n",
				key.handler, key.method, strconv.FormatFloat(bound, 'g', -1, 64), hist.counts[idx])
		}
		fmt.Fprintf(&sb, "provchain_http_request_duration_seconds_bucket{handler=%q,method=%q,le=\"+Inf\"} %d\n",
			key.handler, key.method, hist.count)
		fmt.Fprintf(&sb, "provchain_http_request_duration_seconds_sum{handler=%q,method=%q} %g\n",
			key.handler, key.method, hist.sum)
		fmt.Fprintf(&sb, "provchain_http_request_duration_seconds_count{handler=%q,method=%q} %d\n",
			key.handler, key.method, hist.count)
	}

	return sb.String()
}

// Package upstream probes the services the provisioner depends on and keeps
// their last known reachability.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/unit-provisioner/pkg/logging"
)

// Target is one service to probe
type Target struct {
	Name    string
	URL     string
	Timeout time.Duration
}

// Status holds the result of the last probe of a target
type Status struct {
	Name         string        `json:"name"`
	URL          string        `json:"url"`
	Reachable    bool          `json:"reachable"`
	LastCheck    time.Time     `json:"last_check"`
	LastError    string        `json:"last_error,omitempty"`
	ResponseTime time.Duration `json:"response_time_ns"`
}

// Checker periodically probes its targets. Any response below 500 counts as
// reachable; services are not required to expose a health route.
type Checker struct {
	targets []Target
	logger  *logging.Logger
	client  *http.Client

	mu       sync.RWMutex
	statuses map[string]Status

	reachable    *prometheus.GaugeVec
	responseTime *prometheus.GaugeVec
	lastCheck    *prometheus.GaugeVec
}

// NewChecker creates a checker and registers its gauges with reg
func NewChecker(targets []Target, reg prometheus.Registerer, logger *logging.Logger) *Checker {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Checker{
		targets:  targets,
		logger:   logger,
		client:   &http.Client{},
		statuses: make(map[string]Status),
		reachable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "provisioner_upstream_reachable",
				Help: "Whether the upstream service answered the last probe (1) or not (0)",
			},
			[]string{"upstream"},
		),
		responseTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "provisioner_upstream_response_seconds",
				Help: "Response time of the last upstream probe",
			},
			[]string{"upstream"},
		),
		lastCheck: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "provisioner_upstream_last_check_timestamp_seconds",
				Help: "Unix time of the last upstream probe",
			},
			[]string{"upstream"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.reachable, c.responseTime, c.lastCheck)
	}
	return c
}

func (c *Checker) probe(ctx context.Context, target Target) Status {
	status := Status{
		Name:      target.Name,
		URL:       target.URL,
		LastCheck: time.Now(),
	}

	timeout := target.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		status.LastError = err.Error()
		return status
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
		return status
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		status.LastError = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}
	status.Reachable = true
	return status
}

// CheckAll probes every target concurrently and records the results
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, target := range c.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			status := c.probe(ctx, t)
			c.record(status)

			if status.Reachable {
				c.logger.Debug("Upstream reachable", map[string]interface{}{
					"upstream":         status.Name,
					"response_time_ms": float64(status.ResponseTime.Microseconds()) / 1000.0,
				})
			} else {
				c.logger.Warn("Upstream unreachable", map[string]interface{}{
					"upstream": status.Name,
					"url":      status.URL,
					"error":    status.LastError,
				})
			}
		}(target)
	}
	wg.Wait()
}

func (c *Checker) record(status Status) {
	c.mu.Lock()
	c.statuses[status.Name] = status
	c.mu.Unlock()

	value := 0.0
	if status.Reachable {
		value = 1
	}
	c.reachable.WithLabelValues(status.Name).Set(value)
	c.responseTime.WithLabelValues(status.Name).Set(status.ResponseTime.Seconds())
	c.lastCheck.WithLabelValues(status.Name).Set(float64(status.LastCheck.Unix()))
}

// Run probes immediately and then every interval until ctx is done
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// Statuses returns the last probe of every target, ordered by name. Targets
// not probed yet are absent.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.statuses))
	for _, s := range c.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every probed target was reachable
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Reachable {
			return false
		}
	}
	return true
}

// Targets builds probe targets from service base URLs, skipping empty ones.
// path is appended to every URL.
func Targets(endpoints map[string]string, path string, timeout time.Duration) []Target {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	var targets []Target
	for _, name := range names {
		base := strings.TrimRight(endpoints[name], "/")
		if base == "" {
			continue
		}
		targets = append(targets, Target{Name: name, URL: base + path, Timeout: timeout})
	}
	return targets
}

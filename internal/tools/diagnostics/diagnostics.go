// Package diagnostics is the system diagnostics tool: component health,
// component metrics, and symptom-based cause analysis over a simulated
// component fleet.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Status of a monitored component.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// ErrUnknownComponent is returned for names outside the monitored fleet.
var ErrUnknownComponent = errors.New("unknown component")

var componentNames = []string{"database", "api_server", "cache", "message_queue", "file_storage"}

// Component is one monitored system component.
type Component struct {
	Name           string `json:"name"`
	Status         Status `json:"status"`
	ResponseTimeMS int    `json:"response_time_ms"`
}

// Metrics is the detailed metric snapshot for one component.
type Metrics struct {
	Component        string  `json:"component"`
	Status           Status  `json:"status"`
	ResponseTimeMS   int     `json:"response_time_ms"`
	CPUPercent       int     `json:"cpu_usage_percent"`
	MemoryPercent    int     `json:"memory_usage_percent"`
	RequestCount     int     `json:"request_count"`
	ErrorRatePercent float64 `json:"error_rate_percent"`
}

// Cause is one candidate root cause with a confidence in [0, 1].
type Cause struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Diagnosis is the result of symptom analysis. Causes are ordered by
// descending confidence.
type Diagnosis struct {
	Summary string   `json:"summary"`
	Causes  []Cause  `json:"causes"`
	Actions []string `json:"actions"`
}

// Provider holds the simulated fleet and serves diagnostic queries.
type Provider struct {
	logger *slog.Logger

	mu         sync.Mutex
	components map[string]*Component
}

// baseline response times per component.
var baselines = map[string]int{
	"database":      45,
	"api_server":    120,
	"cache":         5,
	"message_queue": 15,
	"file_storage":  200,
}

// NewProvider creates a provider with all components healthy.
func NewProvider(logger *slog.Logger) *Provider {
	comps := make(map[string]*Component, len(baselines))
	for name, rt := range baselines {
		comps[name] = &Component{Name: name, Status: StatusHealthy, ResponseTimeMS: rt}
	}
	return &Provider{logger: logger, components: comps}
}

// SetStatus overrides a component's status, used to simulate outages.
// Degraded and down components multiply their baseline response time.
func (p *Provider) SetStatus(name string, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.components[name]
	if !ok {
		return fmt.Errorf("component %q: %w", name, ErrUnknownComponent)
	}
	c.Status = status
	switch status {
	case StatusHealthy:
		c.ResponseTimeMS = baselines[name]
	case StatusDegraded:
		c.ResponseTimeMS = baselines[name] * 10
	case StatusDown:
		c.ResponseTimeMS = 0
	}
	return nil
}

// CheckHealth returns one component, or all components when name is empty.
func (p *Provider) CheckHealth(_ context.Context, name string) ([]Component, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name != "" {
		c, ok := p.components[name]
		if !ok {
			return nil, fmt.Errorf("component %q: %w", name, ErrUnknownComponent)
		}
		return []Component{*c}, nil
	}
	out := make([]Component, 0, len(p.components))
	for _, n := range componentNames {
		out = append(out, *p.components[n])
	}
	return out, nil
}

// OverallStatus is healthy only when every component is healthy.
func (p *Provider) OverallStatus(ctx context.Context) (Status, error) {
	comps, err := p.CheckHealth(ctx, "")
	if err != nil {
		return "", err
	}
	for _, c := range comps {
		if c.Status != StatusHealthy {
			return StatusDegraded, nil
		}
	}
	return StatusHealthy, nil
}

// GetMetrics returns a deterministic metric snapshot for one component.
// Values are derived from the component name so repeated calls agree.
func (p *Provider) GetMetrics(_ context.Context, name string) (*Metrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.components[name]
	if !ok {
		return nil, fmt.Errorf("component %q: %w", name, ErrUnknownComponent)
	}

	h := fnv.New32a()
	h.Write([]byte(name))
	seed := h.Sum32()

	m := &Metrics{
		Component:        name,
		Status:           c.Status,
		ResponseTimeMS:   c.ResponseTimeMS,
		CPUPercent:       20 + int(seed%61),
		MemoryPercent:    30 + int((seed/61)%41),
		RequestCount:     1000 + int(seed%9001),
		ErrorRatePercent: float64(seed%200) / 100,
	}
	if c.Status != StatusHealthy {
		m.CPUPercent = min(m.CPUPercent+30, 100)
		m.ErrorRatePercent += 10
	}
	return m, nil
}

// Diagnose matches symptoms against known failure patterns and returns
// candidate causes ordered by confidence. Components that are not
// healthy raise the confidence of the causes pointing at them.
func (p *Provider) Diagnose(ctx context.Context, symptom string) (*Diagnosis, error) {
	lower := strings.ToLower(symptom)

	var d *Diagnosis
	switch {
	case strings.Contains(lower, "slow") || strings.Contains(lower, "timeout"):
		d = &Diagnosis{
			Summary: "Performance degradation",
			Causes: []Cause{
				{Description: "High database query latency", Confidence: 0.6},
				{Description: "API server overload", Confidence: 0.5},
				{Description: "Cache miss rate increase", Confidence: 0.4},
			},
			Actions: []string{
				"Check database query performance",
				"Review API server metrics",
				"Investigate cache hit rates",
			},
		}
	case strings.Contains(lower, "error") || strings.Contains(lower, "failure"):
		d = &Diagnosis{
			Summary: "Service failure",
			Causes: []Cause{
				{Description: "Component crash", Confidence: 0.6},
				{Description: "Resource exhaustion", Confidence: 0.5},
				{Description: "Configuration error", Confidence: 0.4},
			},
			Actions: []string{
				"Check component logs",
				"Review resource usage",
				"Verify configuration",
			},
		}
	case strings.Contains(lower, "connection"):
		d = &Diagnosis{
			Summary: "Connectivity issue",
			Causes: []Cause{
				{Description: "Database connection pool exhaustion", Confidence: 0.5},
				{Description: "Network partition", Confidence: 0.45},
				{Description: "Service unavailable", Confidence: 0.4},
				{Description: "Firewall blocking", Confidence: 0.3},
			},
			Actions: []string{
				"Check database connection pool settings",
				"Check network connectivity",
				"Verify service availability",
				"Review firewall rules",
			},
		}
	default:
		d = &Diagnosis{
			Summary: "Unknown issue",
			Causes: []Cause{
				{Description: "Requires further investigation", Confidence: 0.2},
			},
			Actions: []string{
				"Collect more diagnostic information",
				"Review system logs",
				"Check recent changes",
			},
		}
	}

	p.boostByComponentState(d)

	sort.SliceStable(d.Causes, func(i, j int) bool {
		return d.Causes[i].Confidence > d.Causes[j].Confidence
	})

	if p.logger != nil {
		p.logger.DebugContext(ctx, "diagnosis produced",
			slog.String("summary", d.Summary),
			slog.Int("causes", len(d.Causes)),
		)
	}
	return d, nil
}

// boostByComponentState raises confidence for causes whose component is
// currently unhealthy. Confidence stays within [0, 1].
func (p *Provider) boostByComponentState(d *Diagnosis) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keywords := map[string]string{
		"database":   "database",
		"api server": "api_server",
		"cache":      "cache",
	}
	for i, c := range d.Causes {
		for kw, comp := range keywords {
			if !strings.Contains(strings.ToLower(c.Description), kw) {
				continue
			}
			if state := p.components[comp]; state != nil && state.Status != StatusHealthy {
				d.Causes[i].Confidence = min(c.Confidence+0.35, 1.0)
			}
		}
	}
}

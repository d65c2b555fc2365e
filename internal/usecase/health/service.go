package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates a non-critical component failure.
	Degraded Status = "degraded"
	// Unhealthy indicates a critical component failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component is one named health probe.
type Component struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Store probes a Pinger.
func Store(name string, p Pinger, critical bool) Component {
	return Component{Name: name, Critical: critical, Check: p.Ping}
}

// Embedding probes the embedding provider as a non-critical component.
func Embedding(c EmbeddingChecker) Component {
	return Component{Name: "embedding", Check: c.HealthCheck}
}

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	components []Component
}

// New creates a Service over components.
func New(components ...Component) *Service {
	return &Service{components: components}
}

// Check runs every probe.
func (s *Service) Check(ctx context.Context) Report {
	r := Report{Status: Healthy, Checks: make(map[string]CheckResult, len(s.components))}
	for _, c := range s.components {
		if err := c.Check(ctx); err != nil {
			r.Checks[c.Name] = CheckError
			switch {
			case c.Critical:
				r.Status = Unhealthy
			case r.Status == Healthy:
				r.Status = Degraded
			}
			continue
		}
		r.Checks[c.Name] = CheckOK
	}
	return r
}

package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends the current value of every run metric to a Prometheus
// Pushgateway under the given job name.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	p := push.New(url, job)
	for _, c := range m.Collectors() {
		p = p.Collector(c)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

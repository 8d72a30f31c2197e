package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// pushSink pushes every Send to a Prometheus Pushgateway, replacing the
// previous values for the same job and grouping. A batch CLI has no
// long-lived process to scrape, so push is the only way to export.
type pushSink struct {
	url      string
	job      string
	grouping map[string]string
}

var _ Sink = &pushSink{}

// NewPushSink returns a sink that pushes to the gateway at url under job.
// grouping labels (for example mode=check) are added to the push path.
func NewPushSink(url, job string, grouping map[string]string) *pushSink {
	return &pushSink{url: url, job: job, grouping: grouping}
}

func (p *pushSink) Send(ctx context.Context, m *Metrics) error {
	reg := prometheus.NewRegistry()
	for _, v := range m.Values {
		var c prometheus.Collector
		switch v.Type {
		case COUNTER:
			if v.Value < 0 {
				return fmt.Errorf("counter %s cannot be negative: %v", v.Name, v.Value)
			}
			counter := prometheus.NewCounter(prometheus.CounterOpts{Name: v.Name, Help: v.Name})
			counter.Add(v.Value)
			c = counter
		case GAUGE:
			gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: v.Name, Help: v.Name})
			gauge.Set(v.Value)
			c = gauge
		default:
			return fmt.Errorf("metric %s has invalid type %d", v.Name, v.Type)
		}
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering %s: %w", v.Name, err)
		}
	}
	pusher := push.New(p.url, p.job).Gatherer(reg)
	for k, v := range p.grouping {
		pusher = pusher.Grouping(k, v)
	}
	return pusher.PushContext(ctx)
}

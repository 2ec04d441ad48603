package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/opscart/k8s-auto-healer/pkg/log"
)

type PrometheusSource struct {
	client v1.API
	url    string
}

func NewPrometheusSource(url string) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{
		Address: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &PrometheusSource{
		client: v1.NewAPI(client),
		url:    url,
	}, nil
}

// RestartTrend sums the restart increase per pod over the lookback window.
// Pods that never restarted in the window are absent from the result.
func (p *PrometheusSource) RestartTrend(ctx context.Context, namespace string, lookback time.Duration) (map[string]float64, error) {
	query := fmt.Sprintf(
		`sum by (pod) (increase(kube_pod_container_status_restarts_total{namespace=%q}[%s]))`,
		namespace, model.Duration(lookback).String(),
	)

	result, warnings, err := p.client.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	if len(warnings) > 0 {
		logger := log.WithComponent("datasource")
		logger.Warn().
			Strs("warnings", warnings).
			Msg("prometheus returned warnings")
	}

	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T for query: %s", result, query)
	}

	trend := make(map[string]float64, len(vector))
	for _, sample := range vector {
		trend[string(sample.Metric["pod"])] = float64(sample.Value)
	}

	return trend, nil
}

func (p *PrometheusSource) IsAvailable(ctx context.Context) bool {
	_, _, err := p.client.Query(ctx, "up", time.Now())
	return err == nil
}

func (p *PrometheusSource) Name() string {
	return "Prometheus"
}

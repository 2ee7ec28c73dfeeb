package cache

import (
	"context"
	"fmt"
	"time"

	"kasirledger/internal/domain"
)

type MetricsCache interface {
	Get(ctx context.Context, key string) (*domain.MetricsReport, bool, error)
	Set(ctx context.Context, key string, value *domain.MetricsReport, ttl time.Duration) error
}

type NoopMetricsCache struct{}

func (NoopMetricsCache) Get(_ context.Context, _ string) (*domain.MetricsReport, bool, error) {
	return nil, false, nil
}

func (NoopMetricsCache) Set(_ context.Context, _ string, _ *domain.MetricsReport, _ time.Duration) error {
	return nil
}

// MetricsKey scopes a cached report to its window length and the day it ends on.
// Stores add their own namespace.
func MetricsKey(days int, day time.Time) string {
	return fmt.Sprintf("%d:%s", days, day.UTC().Format("20060102"))
}

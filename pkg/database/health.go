package database

import (
	"context"
	"time"
)

// HealthStatus reports store connectivity and connection pool statistics.
type HealthStatus struct {
	Status          string `json:"status"`
	Dialect         string `json:"dialect"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	WaitDuration    int64  `json:"wait_duration_ms"`
	MaxOpenConns    int    `json:"max_open_conns"`
}

// Health pings the store and returns pool statistics.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := c.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			Dialect:      string(c.dialect),
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := c.DB.Stats()
	return &HealthStatus{
		Status:          "healthy",
		Dialect:         string(c.dialect),
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration.Milliseconds(),
		MaxOpenConns:    stats.MaxOpenConnections,
	}, nil
}

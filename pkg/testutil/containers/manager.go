//go:build integration

package containers

import (
	"sync"
	"testing"
)

// Manager hands out one shared container per kind for the whole test binary.
// Ryuk reaps them when the process exits.
type Manager struct {
	pgOnce    sync.Once
	pg        *PostgresContainer
	redisOnce sync.Once
	redis     *RedisContainer
	rpOnce    sync.Once
	rp        *RedpandaContainer
}

var shared Manager

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	return &shared
}

// Postgres returns the shared PostgreSQL container, starting it on first use.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.pgOnce.Do(func() { m.pg = NewPostgresContainer(t) })
	return m.pg
}

// Redis returns the shared Redis container, starting it on first use.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.redisOnce.Do(func() { m.redis = NewRedisContainer(t) })
	return m.redis
}

// Redpanda returns the shared Redpanda broker, starting it on first use.
func (m *Manager) GetRedpanda(t *testing.T) *RedpandaContainer {
	t.Helper()
	m.rpOnce.Do(func() { m.rp = NewRedpandaContainer(t) })
	return m.rp
}

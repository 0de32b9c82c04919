package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want Level
	}{
		{"empty", nil, LevelHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, LevelHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, LevelDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, LevelUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, got.Level)
			assert.Equal(t, "system", got.Component)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_CopiesSubStatuses(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	agg := Aggregate("system", subs)
	subs[0].Level = LevelUnhealthy
	assert.True(t, agg.SubStatuses[0].IsHealthy())
}

func TestFromError_Sanitizes(t *testing.T) {
	err := fmt.Errorf("dial unix /run/host.sock: connect to 10.0.0.7:9091 token=abc123 failed")
	s := FromError("protocol", err)

	assert.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "/run/host.sock")
	assert.NotContains(t, s.Message, "10.0.0.7")
	assert.NotContains(t, s.Message, "abc123")
	assert.Contains(t, s.Message, "[PATH]")

	assert.True(t, FromError("protocol", nil).IsHealthy())
}

func TestSanitizeErrorMessage_URL(t *testing.T) {
	got := sanitizeErrorMessage("push to http://gateway:9091/metrics/job/w failed")
	assert.Equal(t, "push to [URL] failed", got)
	assert.Empty(t, sanitizeErrorMessage(""))
}

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor("worker")

	m.Update("protocol", Status{Component: "wrong", Level: LevelHealthy})
	s, ok := m.Get("protocol")
	require.True(t, ok)
	assert.Equal(t, "protocol", s.Component)
	assert.False(t, s.Timestamp.IsZero())

	m.UpdateDegraded("metrics", "push failing")
	m.UpdateError("worker", fmt.Errorf("boom"))
	assert.Equal(t, []string{"metrics", "protocol", "worker"}, m.Components())

	_, ok = m.Get("absent")
	assert.False(t, ok)
}

func TestMonitor_AggregateOrdered(t *testing.T) {
	m := NewMonitor("worker")
	m.UpdateHealthy("zeta", "")
	m.UpdateHealthy("alpha", "")

	agg := m.AggregateHealth()
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "alpha", agg.SubStatuses[0].Component)
	assert.Equal(t, "worker", agg.Component)
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor("worker")
	m.UpdateHealthy("protocol", "connected")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, LevelHealthy, body.Level)

	m.UpdateUnhealthy("protocol", "channel closed")
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor("worker")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("c%d", i%4)
			m.UpdateHealthy(name, "")
			_ = m.AggregateHealth()
			_, _ = m.Get(name)
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.Components(), 4)
}

package erp

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Mock is the deterministic in-memory gateway used in tests and as the
// default mode. External ids derive from the local id (external_ref), so a
// PO with id 11 always lands as SENIOR-OC-000011.
type Mock struct {
	mu      sync.Mutex
	records map[string][]Record // key: tenantID + "/" + entity

	// failures scripts upcoming push outcomes per external_ref. Each call
	// consumes one entry; an exhausted script means success.
	failures map[string][]*Error

	pushes int
}

// NewMock builds an empty mock gateway.
func NewMock() *Mock {
	return &Mock{
		records:  make(map[string][]Record),
		failures: make(map[string][]*Error),
	}
}

// FailPushWith scripts the next push outcomes for one external_ref.
func (m *Mock) FailPushWith(externalRef string, errs ...*Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[externalRef] = append(m.failures[externalRef], errs...)
}

// SeedRecords registers pull records for a (tenant, entity) pair.
func (m *Mock) SeedRecords(tenantID, entity string, recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "/" + entity
	m.records[key] = append(m.records[key], recs...)
	sort.SliceStable(m.records[key], func(i, j int) bool {
		a, b := m.records[key][i], m.records[key][j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ExternalID < b.ExternalID
	})
}

// PushCalls returns how many push calls reached the mock.
func (m *Mock) PushCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

// PushPurchaseOrder validates nothing (the worker validates before calling)
// and accepts with a stable external id unless a failure was scripted.
func (m *Mock) PushPurchaseOrder(_ context.Context, env *Envelope) (*PushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pushes++
	if script := m.failures[env.ExternalRef]; len(script) > 0 {
		next := script[0]
		m.failures[env.ExternalRef] = script[1:]
		return nil, next
	}

	id, err := strconv.ParseInt(env.ExternalRef, 10, 64)
	if err != nil {
		return nil, &Error{Definitive: true, Details: fmt.Sprintf("invalid external_ref %q", env.ExternalRef)}
	}
	return &PushResult{
		ExternalID: fmt.Sprintf("SENIOR-OC-%06d", id),
		Status:     PushAccepted,
	}, nil
}

// FetchRecords returns seeded records strictly after the watermark, ordered
// by (updated_at asc, external_id asc).
func (m *Mock) FetchRecords(_ context.Context, tenantID, entity string, q FetchQuery) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.records[tenantID+"/"+entity] {
		if !afterWatermark(r, q.SinceUpdatedAt, q.SinceID) {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func afterWatermark(r Record, since *time.Time, sinceID string) bool {
	if since == nil {
		return true
	}
	if r.UpdatedAt.After(*since) {
		return true
	}
	return r.UpdatedAt.Equal(*since) && r.ExternalID > sinceID
}

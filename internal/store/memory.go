package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"tournav/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	companies map[string]model.Company
	drivers   map[string]model.Driver // tenant|ref
	audits    map[string][]model.ReorderAudit
}

func NewMemory() *Memory {
	return &Memory{
		companies: map[string]model.Company{},
		drivers:   map[string]model.Driver{},
		audits:    map[string][]model.ReorderAudit{},
	}
}

// SeedCompany and SeedDriver exist for tests and the dev server.
func (m *Memory) SeedCompany(c model.Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[c.ID] = c
}

func (m *Memory) SeedDriver(d model.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.TenantID+"|"+d.Ref] = d
}

func (m *Memory) GetCompany(ctx context.Context, id string) (model.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return model.Company{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) GetDriver(ctx context.Context, tenantID, ref string) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[tenantID+"|"+ref]
	if !ok {
		return model.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) InsertReorderAudit(ctx context.Context, rec model.ReorderAudit) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	m.audits[rec.TenantID] = append(m.audits[rec.TenantID], rec)
	return rec.ID, nil
}

func (m *Memory) ListReorderAudit(ctx context.Context, tenantID, tourID string, limit int) ([]model.ReorderAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []model.ReorderAudit{}
	for _, a := range m.audits[tenantID] {
		if tourID != "" && a.TourID != tourID {
			continue
		}
		out = append(out, a)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

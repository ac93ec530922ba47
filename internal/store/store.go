package store

import (
	"context"
	"errors"

	"tournav/internal/model"
)

// Store is the persistence interface used by the core. The core only reads
// reference records and writes reorder provenance; all other CRUD lives in
// the surrounding dashboard service.
type Store interface {
	// Reference reads
	GetCompany(ctx context.Context, id string) (model.Company, error)
	GetDriver(ctx context.Context, tenantID, ref string) (model.Driver, error)

	// Reorder provenance
	InsertReorderAudit(ctx context.Context, rec model.ReorderAudit) (string, error)
	ListReorderAudit(ctx context.Context, tenantID, tourID string, limit int) ([]model.ReorderAudit, error)
}

var ErrNotFound = errors.New("not found")

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tournav/internal/model"
)

// Postgres backs the Store with pgx. Schema lives under db/migrations.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// MigrateDir applies .sql files in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	ctx := context.Background()
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.pool.Exec(ctx, string(b)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) GetCompany(ctx context.Context, id string) (model.Company, error) {
	var c model.Company
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, societe FROM companies WHERE id=$1`, id,
	).Scan(&c.ID, &c.Name, &c.Societe)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Company{}, ErrNotFound
	}
	if err != nil {
		return model.Company{}, err
	}
	return c, nil
}

func (p *Postgres) GetDriver(ctx context.Context, tenantID, ref string) (model.Driver, error) {
	var d model.Driver
	err := p.pool.QueryRow(ctx,
		`SELECT tenant_id, ref, name FROM drivers WHERE tenant_id=$1 AND ref=$2`, tenantID, ref,
	).Scan(&d.TenantID, &d.Ref, &d.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Driver{}, ErrNotFound
	}
	if err != nil {
		return model.Driver{}, err
	}
	return d, nil
}

func (p *Postgres) InsertReorderAudit(ctx context.Context, rec model.ReorderAudit) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO reorder_audit (id, tenant_id, tour_id, issued_by, issued_at, sequence)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.TenantID, rec.TourID, rec.IssuedBy, rec.IssuedAt, rec.Sequence)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (p *Postgres) ListReorderAudit(ctx context.Context, tenantID, tourID string, limit int) ([]model.ReorderAudit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, tenant_id, tour_id, issued_by, issued_at, sequence
		 FROM reorder_audit
		 WHERE tenant_id=$1 AND ($2='' OR tour_id=$2)
		 ORDER BY issued_at DESC LIMIT $3`,
		tenantID, tourID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ReorderAudit{}
	for rows.Next() {
		var a model.ReorderAudit
		if err := rows.Scan(&a.ID, &a.TenantID, &a.TourID, &a.IssuedBy, &a.IssuedAt, &a.Sequence); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

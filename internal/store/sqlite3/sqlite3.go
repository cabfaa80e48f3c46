package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/worldline-go/types"

	_ "modernc.org/sqlite"

	"github.com/rakunlabs/anonymizer/internal/config"
	"github.com/rakunlabs/anonymizer/internal/model"
	"github.com/rakunlabs/anonymizer/internal/store/postgres"
)

var DefaultTablePrefix = "anonymizer_"

// SQLite stores Requests in a single context table keyed by content hash.
// Same layout as the PostgreSQL provider, for single-node deployments.
type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableContext exp.IdentifierExpression
}

type contextRow struct {
	Hash           string    `db:"hash"`
	Document       types.Map[any] `db:"document"`
	ComponentTypes string    `db:"component_types"`
	RequestTypes   string    `db:"request_types"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func New(ctx context.Context, cfg *config.StoreSQLite) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	// /////////////////////////////////////////////
	// Run migrations.
	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}
	// /////////////////////////////////////////////

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	return &SQLite{
		db:           db,
		goqu:         goqu.New("sqlite3", db),
		tableContext: goqu.T(tablePrefix + "context"),
	}, nil
}

func (s *SQLite) Close() {
	s.db.Close()
}

// Record upserts a Request by hash, rewriting the flattened type columns.
func (s *SQLite) Record(ctx context.Context, request *model.Request) error {
	row := contextRow{
		Hash:           request.Hash(),
		Document:       types.Map[any](request.ToDict()),
		ComponentTypes: postgres.FlattenTypes(request.TypesOne()),
		RequestTypes:   postgres.FlattenTypes(request.Type),
		UpdatedAt:      time.Now().UTC(),
	}

	_, err := s.goqu.Insert(s.tableContext).
		Rows(row).
		OnConflict(goqu.DoUpdate("hash", goqu.Record{
			"document":        row.Document,
			"component_types": row.ComponentTypes,
			"request_types":   row.RequestTypes,
			"updated_at":      row.UpdatedAt,
		})).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("record context: %w", err)
	}
	return nil
}

// Lookup retrieves Requests whose flattened type columns match the given
// type filters.
func (s *SQLite) Lookup(ctx context.Context, dataTypes []string, dataTypesAll bool, requestTypes []string, requestTypesAll bool) ([]*model.Request, error) {
	query := s.goqu.From(s.tableContext).Select("document")

	if cond := postgres.TypeCondition("component_types", dataTypes, dataTypesAll); cond != nil {
		query = query.Where(cond)
	}
	if cond := postgres.TypeCondition("request_types", requestTypes, requestTypesAll); cond != nil {
		query = query.Where(cond)
	}

	var rows []struct {
		Document types.Map[any] `db:"document"`
	}
	if err := query.Executor().ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("lookup context: %w", err)
	}

	requests := make([]*model.Request, 0, len(rows))
	for _, row := range rows {
		request, err := model.RequestFromDict(map[string]any(row.Document))
		if err != nil {
			return nil, fmt.Errorf("decode stored request: %w", err)
		}
		requests = append(requests, request)
	}
	return requests, nil
}

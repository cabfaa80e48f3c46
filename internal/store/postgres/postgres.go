package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/worldline-go/types"

	"github.com/rakunlabs/anonymizer/internal/config"
	"github.com/rakunlabs/anonymizer/internal/model"
)

var DefaultTablePrefix = "anonymizer_"

// Postgres stores Requests in a single context table keyed by content
// hash, with pipe-delimited type columns for AND/OR filtering.
type Postgres struct {
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

func New(ctx context.Context, cfg *config.StorePostgres) (*Postgres, error) {
	if cfg == nil {
		return nil, errors.New("postgres configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("postgres datasource is required")
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
	if migrate.Schema == "" {
		migrate.Schema = cfg.Schema
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store postgres: %w", err)
	}
	// /////////////////////////////////////////////

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	table := goqu.T(tablePrefix + "context")
	if cfg.Schema != "" {
		table = goqu.S(cfg.Schema).Table(tablePrefix + "context")
	}

	return &Postgres{
		db:           db,
		goqu:         goqu.New("postgres", db),
		tableContext: table,
	}, nil
}

func (p *Postgres) Close() {
	p.db.Close()
}

// Record upserts a Request by hash. The flattened type columns are
// rewritten on conflict so type additions stay queryable.
func (p *Postgres) Record(ctx context.Context, request *model.Request) error {
	row := contextRow{
		Hash:           request.Hash(),
		Document:       types.Map[any](request.ToDict()),
		ComponentTypes: FlattenTypes(request.TypesOne()),
		RequestTypes:   FlattenTypes(request.Type),
		UpdatedAt:      time.Now().UTC(),
	}

	_, err := p.goqu.Insert(p.tableContext).
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
func (p *Postgres) Lookup(ctx context.Context, dataTypes []string, dataTypesAll bool, requestTypes []string, requestTypesAll bool) ([]*model.Request, error) {
	query := p.goqu.From(p.tableContext).Select("document")

	if cond := TypeCondition("component_types", dataTypes, dataTypesAll); cond != nil {
		query = query.Where(cond)
	}
	if cond := TypeCondition("request_types", requestTypes, requestTypesAll); cond != nil {
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

// FlattenTypes renders a type set as a pipe-delimited string ("|a|b|") so
// LIKE filters can match whole type names.
func FlattenTypes(typeSet model.TypeSet) string {
	sorted := typeSet.Sorted()
	if len(sorted) == 0 {
		return "|"
	}
	return "|" + strings.Join(sorted, "|") + "|"
}

// TypeCondition builds the AND/OR LIKE filter over a flattened type
// column; nil when no types are given.
func TypeCondition(column string, filterTypes []string, all bool) exp.Expression {
	if len(filterTypes) == 0 {
		return nil
	}
	conds := make([]exp.Expression, 0, len(filterTypes))
	for _, t := range filterTypes {
		conds = append(conds, goqu.C(column).Like("%|"+t+"|%"))
	}
	if all {
		return goqu.And(conds...)
	}
	return goqu.Or(conds...)
}

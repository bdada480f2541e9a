// Package postgres is the archive on PostgreSQL.
//
// Records are kept in table
//
//	ras_runs(run_id text primary key, structure jsonb)
//
// where structure is the JSON document of the run.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	xe "github.com/opst/testpod-controller/pkg/errors"
	"github.com/opst/testpod-controller/pkg/ras"
)

// Pool is the subset of *pgxpool.Pool used by Archive.
type Pool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var _ Pool = &pgxpool.Pool{}

type Archive struct {
	pool Pool
}

var _ ras.Archive = &Archive{}

// Connect opens a connection pool to url and creates an Archive on it.
//
// The returned func closes the pool.
func Connect(ctx context.Context, url string) (*Archive, func(), error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, nil, xe.Wrap(err)
	}
	return New(pool), pool.Close, nil
}

func New(pool Pool) *Archive {
	return &Archive{pool: pool}
}

// explain adds a note to errors caused by missing schema.
func explain(err error) error {
	if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) {
		if pgerr.Code == pgerrcode.UndefinedTable {
			return xe.WrapWithNote("table ras_runs does not exist. is the archive initialised?", err)
		}
	}
	return xe.Wrap(err)
}

func (a *Archive) TestStructure(ctx context.Context, runID string) (*ras.TestStructure, error) {
	var raw []byte
	err := a.pool.QueryRow(
		ctx, `select "structure" from "ras_runs" where "run_id" = $1`, runID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, explain(err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, xe.WrapWithNote("structure of "+runID, xe.Invalidf("%s", err))
	}
	status, _ := doc["status"].(string)
	result, _ := doc["result"].(string)
	return &ras.TestStructure{RunID: runID, Status: status, Result: result, Document: doc}, nil
}

func (a *Archive) UpdateTestStructure(ctx context.Context, runID string, ts *ras.TestStructure) error {
	doc := map[string]any{}
	for k, v := range ts.Document {
		doc[k] = v
	}
	doc["status"] = ts.Status
	doc["result"] = ts.Result

	j, err := json.Marshal(doc)
	if err != nil {
		return xe.Wrap(err)
	}

	tag, err := a.pool.Exec(
		ctx, `update "ras_runs" set "structure" = $2 where "run_id" = $1`, runID, string(j),
	)
	if err != nil {
		return explain(err)
	}
	if tag.RowsAffected() == 0 {
		return xe.Missingf("archived run %s", runID)
	}
	return nil
}

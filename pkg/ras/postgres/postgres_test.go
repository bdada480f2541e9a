package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	xe "github.com/opst/testpod-controller/pkg/errors"
	"github.com/opst/testpod-controller/pkg/ras"
	"github.com/opst/testpod-controller/pkg/ras/postgres"
	"github.com/opst/testpod-controller/pkg/utils/try"
)

type row struct {
	raw []byte
	err error
}

func (r row) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.raw
	return nil
}

type fakePool struct {
	rows    map[string][]byte
	err     error
	updates [][]interface{}
}

func (p *fakePool) QueryRow(_ context.Context, _ string, args ...interface{}) pgx.Row {
	if p.err != nil {
		return row{err: p.err}
	}
	raw, ok := p.rows[args[0].(string)]
	if !ok {
		return row{err: pgx.ErrNoRows}
	}
	return row{raw: raw}
}

func (p *fakePool) Exec(_ context.Context, _ string, args ...interface{}) (pgconn.CommandTag, error) {
	if p.err != nil {
		return nil, p.err
	}
	id := args[0].(string)
	if _, ok := p.rows[id]; !ok {
		return pgconn.CommandTag("UPDATE 0"), nil
	}
	p.rows[id] = []byte(args[1].(string))
	p.updates = append(p.updates, args)
	return pgconn.CommandTag("UPDATE 1"), nil
}

func TestArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("it reads and updates structures", func(t *testing.T) {
		pool := &fakePool{rows: map[string][]byte{
			"r1": []byte(`{"runName":"U1","status":"running"}`),
		}}
		testee := postgres.New(pool)

		ts := try.To(testee.TestStructure(ctx, "r1")).OrFatal(t)
		if ts == nil || ts.Status != "running" {
			t.Fatalf("unexpected record: %+v", ts)
		}
		ts.Status = "finished"
		ts.Result = "Hung"
		if err := testee.UpdateTestStructure(ctx, "r1", ts); err != nil {
			t.Fatal(err)
		}

		got := map[string]any{}
		if err := json.Unmarshal(pool.rows["r1"], &got); err != nil {
			t.Fatal(err)
		}
		expected := map[string]any{"runName": "U1", "status": "finished", "result": "Hung"}
		if diff := cmp.Diff(expected, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown runs are nil, and updating them is ErrMissing", func(t *testing.T) {
		testee := postgres.New(&fakePool{rows: map[string][]byte{}})
		if ts := try.To(testee.TestStructure(ctx, "nope")).OrFatal(t); ts != nil {
			t.Errorf("unexpected record: %+v", ts)
		}
		err := testee.UpdateTestStructure(ctx, "nope", &ras.TestStructure{Status: "finished"})
		if !errors.Is(err, xe.ErrMissing) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("a missing table is explained", func(t *testing.T) {
		testee := postgres.New(&fakePool{err: &pgconn.PgError{Code: pgerrcode.UndefinedTable}})
		_, err := testee.TestStructure(ctx, "r1")
		if err == nil || !strings.Contains(err.Error(), "ras_runs does not exist") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

// TestArchive_OnDatabase runs against a real PostgreSQL named by TESTPOD_TEST_POSTGRES.
func TestArchive_OnDatabase(t *testing.T) {
	url := os.Getenv("TESTPOD_TEST_POSTGRES")
	if url == "" {
		t.Skip("TESTPOD_TEST_POSTGRES is not set")
	}
	ctx := context.Background()

	pool := try.To(pgx.Connect(ctx, url)).OrFatal(t)
	defer pool.Close(ctx)
	if _, err := pool.Exec(ctx, `create temporary table "ras_runs" ("run_id" text primary key, "structure" jsonb not null)`); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, `insert into "ras_runs" values ('r1', '{"status": "running"}')`); err != nil {
		t.Fatal(err)
	}

	testee := postgres.New(pool)
	ts := try.To(testee.TestStructure(ctx, "r1")).OrFatal(t)
	ts.Status = "finished"
	if err := testee.UpdateTestStructure(ctx, "r1", ts); err != nil {
		t.Fatal(err)
	}
	after := try.To(testee.TestStructure(ctx, "r1")).OrFatal(t)
	if after.Status != "finished" {
		t.Errorf("mismatch. (actual, expected) = (%s, %s)", after.Status, "finished")
	}
}

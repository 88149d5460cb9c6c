package sink

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/errors"
)

type fakeBatcher struct {
	batch *pgx.Batch
	errs  map[string]error
}

func (f *fakeBatcher) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batch = b
	return &fakeBatchResults{batch: b, errs: f.errs}
}

type fakeBatchResults struct {
	batch *pgx.Batch
	errs  map[string]error
	idx   int
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	q := r.batch.QueuedQueries[r.idx]
	r.idx++
	key, _ := q.Arguments[0].(string)
	if err := r.errs[key]; err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeBatchResults) QueryRow() pgx.Row { return nil }

func (r *fakeBatchResults) Close() error { return nil }

func TestPostgresApply(t *testing.T) {
	db := &fakeBatcher{errs: map[string]error{
		"sessions:2": &pgconn.PgError{Code: "23505", Message: "duplicate key"},
		"sessions:3": &pgconn.PgError{Code: "08006", Message: "connection failure"},
	}}
	s := &Postgres{DB: db, Table: "sessions"}

	items := append(testItems(), core.WorkItem{
		Key:       "sessions:3",
		Operation: core.OperationCreate,
		Payload:   map[string]any{"id": 3},
	})
	res, err := s.Apply(context.Background(), items)
	require.NoError(t, err)

	require.Equal(t, []string{"sessions:1"}, res.Succeeded)
	require.True(t, errors.IsPermanent(res.Failed["sessions:2"]))
	require.True(t, errors.IsTransient(res.Failed["sessions:3"]))

	require.Equal(t, 3, db.batch.Len())
	first := db.batch.QueuedQueries[0]
	require.Contains(t, first.SQL, "INSERT INTO sessions (resource_key, payload, synced_at)")
	require.Contains(t, first.SQL, "ON CONFLICT (resource_key) DO UPDATE")
	require.Equal(t, "sessions:1", first.Arguments[0])
	require.JSONEq(t, `{"id":1,"name":"alpha"}`, string(first.Arguments[1].([]byte)))
}

func TestPostgresCustomKeyColumn(t *testing.T) {
	db := &fakeBatcher{}
	s := &Postgres{DB: db, Table: "mirror_sessions", KeyColumn: "session_key"}

	_, err := s.Apply(context.Background(), testItems()[:1])
	require.NoError(t, err)
	require.Contains(t, db.batch.QueuedQueries[0].SQL, "ON CONFLICT (session_key)")
}

func TestPostgresBadIdentifiers(t *testing.T) {
	s := &Postgres{DB: &fakeBatcher{}, Table: "sessions; drop table users"}
	_, err := s.Apply(context.Background(), testItems())
	require.Error(t, err)
	require.True(t, errors.IsPermanent(err))

	s = &Postgres{DB: &fakeBatcher{}, Table: "sessions", KeyColumn: `k"ey`}
	_, err = s.Apply(context.Background(), testItems())
	require.Error(t, err)
	require.True(t, errors.IsPermanent(err))

	s = &Postgres{DB: &fakeBatcher{}}
	_, err = s.Apply(context.Background(), testItems())
	require.Error(t, err)
}

func TestPostgresEmptyItems(t *testing.T) {
	s := &Postgres{DB: &fakeBatcher{}, Table: "sessions"}
	res, err := s.Apply(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, res.Succeeded)
	require.Empty(t, res.Failed)
}

func TestClassifyPg(t *testing.T) {
	require.True(t, errors.IsTransient(classifyPg(&pgconn.PgError{Code: "08000"})))
	require.True(t, errors.IsTransient(classifyPg(&pgconn.PgError{Code: "53300"})))
	require.True(t, errors.IsTransient(classifyPg(&pgconn.PgError{Code: "40001"})))
	require.True(t, errors.IsTransient(classifyPg(&pgconn.PgError{Code: "40P01"})))
	require.True(t, errors.IsPermanent(classifyPg(&pgconn.PgError{Code: "23505"})))
	require.True(t, errors.IsPermanent(classifyPg(&pgconn.PgError{Code: "42P01"})))
	require.True(t, errors.IsTransient(classifyPg(errors.New("connection reset"))))
	require.Equal(t, context.Canceled, classifyPg(context.Canceled))
}

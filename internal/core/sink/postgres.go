package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/errors"
)

const defaultKeyColumn = "resource_key"

// identPattern limits table and column names to plain identifiers; they are
// interpolated into SQL and cannot be bound as parameters.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PgxBatcher is the slice of pgxpool.Pool the sink needs.
type PgxBatcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres upserts rows into a downstream table keyed by KeyColumn. The
// record payload lands in a jsonb column, so the table mirrors the upstream
// collection without a per-collection schema.
type Postgres struct {
	DB        PgxBatcher
	Table     string
	KeyColumn string
}

// Apply upserts one chunk in a single batch round trip, reading per-row
// outcomes back from the batch results.
func (s *Postgres) Apply(ctx context.Context, items []core.WorkItem) (*core.BatchResult, error) {
	if s == nil || s.DB == nil {
		return nil, &errors.PermanentError{Op: "sink", Err: errors.New("postgres sink is not configured")}
	}
	if len(items) == 0 {
		return &core.BatchResult{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stmt, err := s.upsertSQL()
	if err != nil {
		return nil, err
	}

	out := &core.BatchResult{Failed: make(map[string]error)}

	batch := &pgx.Batch{}
	queued := make([]core.WorkItem, 0, len(items))
	for _, item := range items {
		payload, err := json.Marshal(item.Payload)
		if err != nil {
			out.Failed[item.Key] = &errors.PermanentError{Op: "sink", Err: fmt.Errorf("encode payload: %w", err)}
			continue
		}
		batch.Queue(stmt, item.Key, payload)
		queued = append(queued, item)
	}
	if batch.Len() == 0 {
		return out, nil
	}

	results := s.DB.SendBatch(ctx, batch)
	defer results.Close() // nolint:errcheck // per-row errors are read via Exec

	for _, item := range queued {
		if _, err := results.Exec(); err != nil {
			out.Failed[item.Key] = classifyPg(err)
			continue
		}
		out.Succeeded = append(out.Succeeded, item.Key)
	}
	return out, nil
}

func (s *Postgres) upsertSQL() (string, error) {
	table := strings.TrimSpace(s.Table)
	if table == "" {
		return "", &errors.PermanentError{Op: "sink", Err: errors.New("sink table is required")}
	}
	if !identPattern.MatchString(table) {
		return "", &errors.PermanentError{Op: "sink", Err: fmt.Errorf("bad table name %q", table)}
	}

	keyColumn := strings.TrimSpace(s.KeyColumn)
	if keyColumn == "" {
		keyColumn = defaultKeyColumn
	}
	if !identPattern.MatchString(keyColumn) {
		return "", &errors.PermanentError{Op: "sink", Err: fmt.Errorf("bad key column %q", keyColumn)}
	}

	return fmt.Sprintf(`INSERT INTO %s (%s, payload, synced_at)
VALUES ($1, $2, now())
ON CONFLICT (%s) DO UPDATE SET payload = EXCLUDED.payload, synced_at = now()`, table, keyColumn, keyColumn), nil
}

// classifyPg maps database failures onto the retry taxonomy. Connection
// drops, deadlocks and resource exhaustion are worth retrying; constraint
// and syntax errors are not.
func classifyPg(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exceptions
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			pgErr.Code == "40001",               // serialization failure
			pgErr.Code == "40P01",               // deadlock detected
			pgErr.Code == "57P03":               // cannot connect now
			return &errors.TransientError{Op: "sink", Err: err}
		default:
			return &errors.PermanentError{Op: "sink", Err: err}
		}
	}
	return &errors.TransientError{Op: "sink", Err: err}
}

package schema

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lode-orm/lode/dialect"
	lsql "github.com/lode-orm/lode/dialect/sql"
)

// HistoryTable is the migration history table.
const HistoryTable = "_lode_migrations"

// lockRowID marks the row-lock fallback entry in the history table.
const lockRowID = "_lock"

// Disposition classifies one migration id during planning.
type Disposition int

const (
	// ApplyPending: on disk, not yet applied.
	ApplyPending Disposition = iota
	// AlreadyApplied: on disk and recorded in history with a matching
	// checksum.
	AlreadyApplied
	// ChecksumDrift: applied, but the on-disk up-SQL changed since.
	ChecksumDrift
	// MissingLocally: recorded in history but absent from disk.
	MissingLocally
	// Skipped: excluded by a resolution.
	Skipped
)

func (d Disposition) String() string {
	switch d {
	case ApplyPending:
		return "pending"
	case AlreadyApplied:
		return "applied"
	case ChecksumDrift:
		return "checksum-drift"
	case MissingLocally:
		return "missing-locally"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// PlanEntry is the disposition of one migration id.
type PlanEntry struct {
	ID          string
	Disposition Disposition
	// Migration is nil for MissingLocally entries.
	Migration *Migration
	// Resolution is the override that shaped this entry, if any.
	Resolution ResolutionAction
}

// Plan is the ordered comparison of on-disk migrations with history.
type Plan struct {
	Entries []PlanEntry
}

// Pending returns the migrations that would be applied, in order.
func (p *Plan) Pending() []*Migration {
	var out []*Migration
	for _, e := range p.Entries {
		if e.Disposition == ApplyPending {
			out = append(out, e.Migration)
		}
	}
	return out
}

// Err returns the first planning conflict: unresolved drift or a
// history id with no local migration. A clean plan returns nil.
func (p *Plan) Err() error {
	for _, e := range p.Entries {
		switch e.Disposition {
		case ChecksumDrift:
			return &ChecksumError{ID: e.ID}
		case MissingLocally:
			return &MissingMigrationError{ID: e.ID}
		}
	}
	return nil
}

// ChecksumError reports a post-apply edit of a migration's up-SQL.
type ChecksumError struct {
	ID       string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("lode/schema: migration %s: checksum mismatch (edited after apply?)", e.ID)
}

// MissingMigrationError reports a history row with no local migration.
type MissingMigrationError struct {
	ID string
}

func (e *MissingMigrationError) Error() string {
	return fmt.Sprintf("lode/schema: migration %s recorded in history but missing locally", e.ID)
}

// LockError reports a failure to take the exclusive migration lock.
type LockError struct {
	Err error
}

func (e *LockError) Error() string {
	return "lode/schema: could not acquire migration lock: " + e.Err.Error()
}

func (e *LockError) Unwrap() error { return e.Err }

// ApplyError reports a failed migration with its position.
type ApplyError struct {
	ID        string
	Statement int
	Err       error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("lode/schema: migration %s: statement %d: %v", e.ID, e.Statement, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// RollbackError reports a failed or impossible down-step.
type RollbackError struct {
	ID  string
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("lode/schema: rollback %s: %v", e.ID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// appliedRow is one history table row.
type appliedRow struct {
	ID         string
	Checksum   string
	AppliedAt  time.Time
	DurationMS int64
	RolledBack bool
}

// Migrator plans and applies versioned migrations against one
// database. Every state-changing operation runs under an exclusive
// lock: advisory where the dialect has one, a history-table row
// otherwise.
type Migrator struct {
	drv  *lsql.Driver
	dir  *Dir
	res  Resolutions
	log  *slog.Logger
	caps dialect.Caps
}

// MigratorOption configures a Migrator.
type MigratorOption func(*Migrator)

// WithResolutions supplies planning overrides.
func WithResolutions(res Resolutions) MigratorOption {
	return func(m *Migrator) { m.res = res }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) MigratorOption {
	return func(m *Migrator) { m.log = log }
}

// NewMigrator returns a Migrator over the given driver and migrations
// directory.
func NewMigrator(drv *lsql.Driver, dir *Dir, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		drv:  drv,
		dir:  dir,
		res:  Resolutions{},
		log:  slog.Default(),
		caps: drv.Caps(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize creates the history table if it does not exist.
func (m *Migrator) Initialize(ctx context.Context) error {
	text, ts := "text", "timestamptz"
	switch m.caps.Dialect {
	case dialect.MySQL:
		text, ts = "varchar(255)", "datetime(3)"
	case dialect.SQLite:
		ts = "datetime"
	}
	hist, err := m.ident(HistoryTable)
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n"+
			"    id %s PRIMARY KEY,\n"+
			"    checksum %s NOT NULL,\n"+
			"    applied_at %s NOT NULL,\n"+
			"    duration_ms bigint NOT NULL DEFAULT 0,\n"+
			"    rolled_back boolean NOT NULL DEFAULT FALSE\n"+
			")", hist, text, text, ts)
	if err := m.drv.Exec(ctx, ddl, []any{}, nil); err != nil {
		return fmt.Errorf("lode/schema: initialize history: %w", err)
	}
	return nil
}

// Plan compares on-disk migrations with history and returns the
// disposition of every id, in id order. Resolutions are applied here:
// accepted checksums downgrade drift, skips drop ids, baselines and
// renames rewrite the comparison.
func (m *Migrator) Plan(ctx context.Context) (*Plan, error) {
	local, err := m.dir.List()
	if err != nil {
		return nil, err
	}
	applied, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	// A rename resolution is keyed by the old id: its history row
	// counts toward the new one.
	appliedBy := make(map[string]*appliedRow, len(applied))
	for i := range applied {
		id := applied[i].ID
		if res, ok := m.res[id]; ok && res.Action == RenameMigration {
			id = res.RenameTo
		}
		appliedBy[id] = &applied[i]
	}
	plan := &Plan{}
	seen := map[string]bool{}
	for _, mig := range local {
		res := m.res[mig.ID]
		entry := PlanEntry{ID: mig.ID, Migration: mig, Resolution: res.Action}
		if res.Action == SkipMigration {
			entry.Disposition = Skipped
			plan.Entries = append(plan.Entries, entry)
			seen[mig.ID] = true
			continue
		}
		row := appliedBy[mig.ID]
		if row == nil || row.RolledBack {
			entry.Disposition = ApplyPending
		} else if row.Checksum != mig.Checksum && res.Action != AcceptChecksum {
			entry.Disposition = ChecksumDrift
		} else {
			entry.Disposition = AlreadyApplied
		}
		seen[mig.ID] = true
		plan.Entries = append(plan.Entries, entry)
	}
	for i := range applied {
		row := &applied[i]
		id := row.ID
		if res, ok := m.res[id]; ok {
			if res.Action == SkipMigration {
				continue
			}
			if res.Action == RenameMigration {
				id = res.RenameTo
			}
		}
		if seen[id] || row.RolledBack || row.ID == lockRowID {
			continue
		}
		plan.Entries = append(plan.Entries, PlanEntry{ID: id, Disposition: MissingLocally})
	}
	return plan, nil
}

// Apply runs all pending migrations in order under the migration
// lock. On failure the failing migration's transaction is rolled
// back, no history row is written, later migrations are not
// attempted, and the lock is released. Returns the applied ids.
func (m *Migrator) Apply(ctx context.Context) ([]string, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	plan, err := m.Plan(ctx)
	if err != nil {
		return nil, err
	}
	if err := plan.Err(); err != nil {
		return nil, err
	}
	var appliedIDs []string
	for _, e := range plan.Entries {
		switch {
		case e.Resolution == BaselineMigration && e.Disposition == ApplyPending:
			if err := m.record(ctx, e.Migration, 0); err != nil {
				return appliedIDs, err
			}
			appliedIDs = append(appliedIDs, e.ID)
			m.log.InfoContext(ctx, "migration baselined", slog.String("id", e.ID))
			continue
		case e.Disposition != ApplyPending:
			continue
		}
		start := time.Now()
		if err := m.applyOne(ctx, e.Migration); err != nil {
			return appliedIDs, err
		}
		if err := m.record(ctx, e.Migration, time.Since(start)); err != nil {
			return appliedIDs, err
		}
		appliedIDs = append(appliedIDs, e.ID)
		m.log.InfoContext(ctx, "migration applied",
			slog.String("id", e.ID),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return appliedIDs, nil
}

// Rollback reverts applied migrations, newest first, back to and
// excluding toID. An empty toID reverts only the newest. Migrations
// without down-SQL stop the rollback.
func (m *Migrator) Rollback(ctx context.Context, toID string) ([]string, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	applied, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	var reverted []string
	for i := len(applied) - 1; i >= 0; i-- {
		row := applied[i]
		if row.RolledBack || row.ID == lockRowID {
			continue
		}
		if row.ID == toID {
			break
		}
		mig, err := m.dir.Get(row.ID)
		if err != nil {
			return reverted, err
		}
		if mig == nil {
			return reverted, &MissingMigrationError{ID: row.ID}
		}
		if !mig.HasDown() {
			return reverted, &RollbackError{ID: row.ID, Err: errors.New("no down.sql")}
		}
		if err := m.execStatements(ctx, mig.ID, mig.Down); err != nil {
			return reverted, &RollbackError{ID: mig.ID, Err: err}
		}
		hist, err := m.ident(HistoryTable)
		if err != nil {
			return reverted, err
		}
		mark := fmt.Sprintf("UPDATE %s SET rolled_back = TRUE WHERE id = %s",
			hist, m.placeholder(1))
		if err := m.drv.Exec(ctx, mark, []any{row.ID}, nil); err != nil {
			return reverted, fmt.Errorf("lode/schema: mark rolled back: %w", err)
		}
		reverted = append(reverted, row.ID)
		m.log.InfoContext(ctx, "migration rolled back", slog.String("id", row.ID))
		if toID == "" {
			break
		}
	}
	return reverted, nil
}

// Status returns the current plan without taking the lock.
func (m *Migrator) Status(ctx context.Context) (*Plan, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	return m.Plan(ctx)
}

func (m *Migrator) applyOne(ctx context.Context, mig *Migration) error {
	if !m.caps.TransactionalDDL {
		return m.execStatements(ctx, mig.ID, mig.Up)
	}
	tx, err := m.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("lode/schema: begin: %w", err)
	}
	for i, stmt := range splitStatements(mig.Up) {
		if err := tx.Exec(ctx, stmt, []any{}, nil); err != nil {
			_ = tx.Rollback()
			return &ApplyError{ID: mig.ID, Statement: i + 1, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("lode/schema: commit %s: %w", mig.ID, err)
	}
	return nil
}

func (m *Migrator) execStatements(ctx context.Context, id, sqlText string) error {
	for i, stmt := range splitStatements(sqlText) {
		if err := m.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return &ApplyError{ID: id, Statement: i + 1, Err: err}
		}
	}
	return nil
}

func (m *Migrator) record(ctx context.Context, mig *Migration, d time.Duration) error {
	hist, err := m.ident(HistoryTable)
	if err != nil {
		return err
	}
	ins := fmt.Sprintf(
		"INSERT INTO %s (id, checksum, applied_at, duration_ms, rolled_back) VALUES (%s, %s, %s, %s, FALSE)",
		hist,
		m.placeholder(1), m.placeholder(2), m.placeholder(3), m.placeholder(4))
	args := []any{mig.ID, mig.Checksum, time.Now().UTC(), d.Milliseconds()}
	if err := m.drv.Exec(ctx, ins, args, nil); err != nil {
		return fmt.Errorf("lode/schema: record %s: %w", mig.ID, err)
	}
	return nil
}

func (m *Migrator) history(ctx context.Context) ([]appliedRow, error) {
	hist, err := m.ident(HistoryTable)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT id, checksum, applied_at, duration_ms, rolled_back FROM %s WHERE id <> %s ORDER BY id",
		hist, m.placeholder(1))
	rows := &lsql.Rows{}
	if err := m.drv.Query(ctx, query, []any{lockRowID}, rows); err != nil {
		return nil, fmt.Errorf("lode/schema: read history: %w", err)
	}
	defer rows.Close()
	var out []appliedRow
	for rows.Next() {
		var r appliedRow
		if err := rows.Scan(&r.ID, &r.Checksum, &r.AppliedAt, &r.DurationMS, &r.RolledBack); err != nil {
			return nil, fmt.Errorf("lode/schema: scan history: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// lock takes the process-exclusive migration lock and returns its
// release function. Release runs on every exit path of the caller.
func (m *Migrator) lock(ctx context.Context) (func(), error) {
	switch {
	case m.caps.AdvisoryLock && m.caps.Dialect == dialect.Postgres:
		key := advisoryKey()
		if err := m.drv.Exec(ctx, "SELECT pg_advisory_lock($1)", []any{key}, nil); err != nil {
			return nil, &LockError{Err: err}
		}
		return func() {
			_ = m.drv.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", []any{key}, nil)
		}, nil
	case m.caps.AdvisoryLock && m.caps.Dialect == dialect.MySQL:
		rows := &lsql.Rows{}
		if err := m.drv.Query(ctx, "SELECT GET_LOCK('lode:migrate', 10)", []any{}, rows); err != nil {
			return nil, &LockError{Err: err}
		}
		ok, err := scanBool(rows)
		if err != nil {
			return nil, &LockError{Err: err}
		}
		if !ok {
			return nil, &LockError{Err: fmt.Errorf("lock held by another session")}
		}
		return func() {
			_ = m.drv.Exec(context.WithoutCancel(ctx), "DO RELEASE_LOCK('lode:migrate')", []any{}, nil)
		}, nil
	default:
		// Row-lock fallback: a sentinel row in the history table. The
		// token makes release idempotent and owner-checked.
		token := uuid.NewString()
		hist, err := m.ident(HistoryTable)
		if err != nil {
			return nil, &LockError{Err: err}
		}
		ins := fmt.Sprintf(
			"INSERT INTO %s (id, checksum, applied_at, duration_ms, rolled_back) VALUES (%s, %s, %s, 0, FALSE)",
			hist, m.placeholder(1), m.placeholder(2), m.placeholder(3))
		if err := m.drv.Exec(ctx, ins, []any{lockRowID, token, time.Now().UTC()}, nil); err != nil {
			return nil, &LockError{Err: err}
		}
		return func() {
			del := fmt.Sprintf("DELETE FROM %s WHERE id = %s AND checksum = %s",
				hist, m.placeholder(1), m.placeholder(2))
			_ = m.drv.Exec(context.WithoutCancel(ctx), del, []any{lockRowID, token}, nil)
		}, nil
	}
}

func scanBool(rows *lsql.Rows) (bool, error) {
	defer rows.Close()
	if !rows.Next() {
		return false, rows.Err()
	}
	var v int
	if err := rows.Scan(&v); err != nil {
		return false, err
	}
	return v == 1, nil
}

func advisoryKey() int64 {
	h := fnv.New64a()
	h.Write([]byte("lode:migrate"))
	return int64(h.Sum64())
}

func (m *Migrator) ident(name string) (string, error) {
	return quoteIdent(m.caps.Quote, name)
}

func (m *Migrator) placeholder(n int) string {
	if m.caps.Placeholder == dialect.PlaceholderDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// splitStatements splits a migration file into statements on
// semicolon-terminated lines, dropping blank pieces and comment-only
// lines. Dollar-quoted bodies are kept intact.
func splitStatements(sqlText string) []string {
	var (
		out     []string
		current strings.Builder
		dollar  bool
	)
	for _, line := range strings.Split(sqlText, "\n") {
		trimmed := strings.TrimSpace(line)
		if current.Len() == 0 && (trimmed == "" || strings.HasPrefix(trimmed, "--")) {
			continue
		}
		if strings.Contains(line, "$$") && strings.Count(line, "$$")%2 == 1 {
			dollar = !dollar
		}
		current.WriteString(line)
		current.WriteString("\n")
		if !dollar && strings.HasSuffix(trimmed, ";") {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

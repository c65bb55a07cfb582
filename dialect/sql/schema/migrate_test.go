package schema

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lode-orm/lode/dialect"
	lsql "github.com/lode-orm/lode/dialect/sql"
)

func testMigrator(t *testing.T, dialectName string, opts ...MigratorOption) (*Migrator, *Dir, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	dir := NewDir(t.TempDir())
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewMigrator(lsql.OpenDB(dialectName, db), dir, opts...), dir, mock
}

func writeMigration(t *testing.T, dir *Dir, name string, when time.Time, steps ...Step) *Migration {
	t.Helper()
	m, err := dir.Write(name, steps, when)
	require.NoError(t, err)
	return m
}

func historyRows(migs ...*Migration) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "checksum", "applied_at", "duration_ms", "rolled_back"})
	for _, m := range migs {
		rows.AddRow(m.ID, m.Checksum, time.Now().UTC(), int64(5), false)
	}
	return rows
}

func expectHistory(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT id, checksum, applied_at, duration_ms, rolled_back FROM "_lode_migrations"`).
		WithArgs(lockRowID).
		WillReturnRows(rows)
}

func TestPlanDispositions(t *testing.T) {
	t.Parallel()
	m, dir, mock := testMigrator(t, dialect.Postgres)
	applied := writeMigration(t, dir, "init", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "SELECT 1;"})
	pending := writeMigration(t, dir, "add_posts", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "SELECT 2;"})

	rows := historyRows(applied)
	rows.AddRow("20250101000000_gone", Checksum("SELECT 0;"), time.Now().UTC(), int64(1), false)
	expectHistory(mock, rows)

	plan, err := m.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)
	assert.Equal(t, AlreadyApplied, plan.Entries[0].Disposition)
	assert.Equal(t, ApplyPending, plan.Entries[1].Disposition)
	assert.Equal(t, MissingLocally, plan.Entries[2].Disposition)
	assert.Equal(t, "20250101000000_gone", plan.Entries[2].ID)

	require.Len(t, plan.Pending(), 1)
	assert.Equal(t, pending.ID, plan.Pending()[0].ID)

	var missing *MissingMigrationError
	require.ErrorAs(t, plan.Err(), &missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanChecksumDrift(t *testing.T) {
	t.Parallel()
	m, dir, mock := testMigrator(t, dialect.Postgres)
	mig := writeMigration(t, dir, "init", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "SELECT 1;"})

	rows := sqlmock.NewRows([]string{"id", "checksum", "applied_at", "duration_ms", "rolled_back"}).
		AddRow(mig.ID, Checksum("SELECT 999;"), time.Now().UTC(), int64(5), false)
	expectHistory(mock, rows)

	plan, err := m.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)
	assert.Equal(t, ChecksumDrift, plan.Entries[0].Disposition)

	var drift *ChecksumError
	require.ErrorAs(t, plan.Err(), &drift)
	assert.Equal(t, mig.ID, drift.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanAcceptChecksumResolution(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	dir := NewDir(t.TempDir())
	mig := writeMigration(t, dir, "init", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "SELECT 1;"})

	m := NewMigrator(lsql.OpenDB(dialect.Postgres, db), dir,
		WithResolutions(Resolutions{mig.ID: {Action: AcceptChecksum}}))

	rows := sqlmock.NewRows([]string{"id", "checksum", "applied_at", "duration_ms", "rolled_back"}).
		AddRow(mig.ID, Checksum("edited"), time.Now().UTC(), int64(5), false)
	expectHistory(mock, rows)

	plan, err := m.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AlreadyApplied, plan.Entries[0].Disposition)
	assert.NoError(t, plan.Err())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanSkipAndRenameResolutions(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	dir := NewDir(t.TempDir())
	skipped := writeMigration(t, dir, "legacy", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "SELECT 1;"})
	renamed := writeMigration(t, dir, "renamed", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "SELECT 2;"})

	oldID := "20251231000000_old_name"
	m := NewMigrator(lsql.OpenDB(dialect.Postgres, db), dir, WithResolutions(Resolutions{
		skipped.ID: {Action: SkipMigration},
		oldID:      {Action: RenameMigration, RenameTo: renamed.ID},
	}))

	// History holds the renamed migration under its old id.
	rows := sqlmock.NewRows([]string{"id", "checksum", "applied_at", "duration_ms", "rolled_back"}).
		AddRow(oldID, renamed.Checksum, time.Now().UTC(), int64(5), false)
	expectHistory(mock, rows)

	plan, err := m.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)
	assert.Equal(t, Skipped, plan.Entries[0].Disposition)
	assert.Equal(t, AlreadyApplied, plan.Entries[1].Disposition)
	assert.NoError(t, plan.Err())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPostgres(t *testing.T) {
	t.Parallel()
	m, dir, mock := testMigrator(t, dialect.Postgres)
	mig := writeMigration(t, dir, "init", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: `CREATE TABLE "User" ("id" serial NOT NULL);`, Down: `DROP TABLE "User";`})

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "_lode_migrations"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WithArgs(advisoryKey()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectHistory(mock, historyRows())
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE "User"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO "_lode_migrations"`).
		WithArgs(mig.ID, mig.Checksum, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(advisoryKey()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ids, err := m.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{mig.ID}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStopsOnFailure(t *testing.T) {
	t.Parallel()
	m, dir, mock := testMigrator(t, dialect.Postgres)
	bad := writeMigration(t, dir, "bad", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "SELECT 1;"}, Step{Up: "SELECT broken;"})
	writeMigration(t, dir, "never_runs", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "SELECT 3;"})

	boom := errors.New("syntax error")
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "_lode_migrations"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectHistory(mock, historyRows())
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT 1;`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT broken;`).WillReturnError(boom)
	mock.ExpectRollback()
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ids, err := m.Apply(context.Background())
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, bad.ID, applyErr.ID)
	assert.Equal(t, 2, applyErr.Statement)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, ids, "failed migration must not be recorded")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBaseline(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	dir := NewDir(t.TempDir())
	mig := writeMigration(t, dir, "init", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "CREATE TABLE existing (id int);"})

	m := NewMigrator(lsql.OpenDB(dialect.Postgres, db), dir,
		WithResolutions(Resolutions{mig.ID: {Action: BaselineMigration}}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "_lode_migrations"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectHistory(mock, historyRows())
	// Baselined migrations are recorded without executing their SQL.
	mock.ExpectExec(`INSERT INTO "_lode_migrations"`).
		WithArgs(mig.ID, mig.Checksum, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ids, err := m.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{mig.ID}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyNonTransactionalDialect(t *testing.T) {
	t.Parallel()
	m, dir, mock := testMigrator(t, dialect.MySQL)
	mig := writeMigration(t, dir, "init", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "CREATE TABLE t (id int);"})

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `_lode_migrations`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT GET_LOCK\('lode:migrate', 10\)`).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	mock.ExpectQuery("SELECT id, checksum, applied_at, duration_ms, rolled_back FROM `_lode_migrations`").
		WithArgs(lockRowID).
		WillReturnRows(historyRows())
	// No BEGIN: MySQL DDL will not roll back anyway.
	mock.ExpectExec(`CREATE TABLE t`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `_lode_migrations`").
		WithArgs(mig.ID, mig.Checksum, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DO RELEASE_LOCK\('lode:migrate'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ids, err := m.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{mig.ID}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLLockHeld(t *testing.T) {
	t.Parallel()
	m, _, mock := testMigrator(t, dialect.MySQL)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `_lode_migrations`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT GET_LOCK\('lode:migrate', 10\)`).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(0))

	_, err := m.Apply(context.Background())
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowLockFallback(t *testing.T) {
	t.Parallel()
	m, _, mock := testMigrator(t, dialect.SQLite)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "_lode_migrations"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// Sentinel row insert wins the lock; the second runner would hit the
	// primary key and fail.
	mock.ExpectExec(`INSERT INTO "_lode_migrations"`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectHistory(mock, historyRows())
	mock.ExpectExec(`DELETE FROM "_lode_migrations" WHERE id = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ids, err := m.Apply(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollback(t *testing.T) {
	t.Parallel()
	m, dir, mock := testMigrator(t, dialect.Postgres)
	first := writeMigration(t, dir, "first", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: `CREATE TABLE "a" ("id" int);`, Down: `DROP TABLE "a";`})
	second := writeMigration(t, dir, "second", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: `CREATE TABLE "b" ("id" int);`, Down: `DROP TABLE "b";`})

	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectHistory(mock, historyRows(first, second))
	mock.ExpectExec(`DROP TABLE "b"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "_lode_migrations" SET rolled_back = TRUE WHERE id = \$1`).
		WithArgs(second.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Empty target reverts only the newest.
	reverted, err := m.Rollback(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, reverted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackRequiresDown(t *testing.T) {
	t.Parallel()
	m, dir, mock := testMigrator(t, dialect.Postgres)
	mig := writeMigration(t, dir, "no_down", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Step{Up: "SELECT 1;"})

	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectHistory(mock, historyRows(mig))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := m.Rollback(context.Background(), "")
	require.Error(t, err)
	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, mig.ID, rbErr.ID)
	assert.Contains(t, err.Error(), "no down.sql")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()
	stmts := splitStatements(`
-- create the table
CREATE TABLE "a" (
    "id" int
);
CREATE INDEX "a_idx" ON "a" ("id");

-- trailing comment
`)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], `CREATE TABLE "a"`)
	assert.Contains(t, stmts[1], "CREATE INDEX")

	// Dollar-quoted bodies hold semicolons without splitting.
	fn := splitStatements(`
CREATE FUNCTION f() RETURNS void AS $$
BEGIN
    SELECT 1;
END;
$$ LANGUAGE plpgsql;
`)
	require.Len(t, fn, 1)
	assert.Contains(t, fn[0], "plpgsql")

	assert.Empty(t, splitStatements("-- nothing here\n"))
}

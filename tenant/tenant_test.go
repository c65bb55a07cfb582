package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lode-orm/lode/dialect"
	lsql "github.com/lode-orm/lode/dialect/sql"
)

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := WithTenant(context.Background(), "acme")
	id, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, ID("acme"), id)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)

	info, ok := InfoFromContext(WithInfo(context.Background(), Info{ID: "acme", Schema: "acme_prod"}))
	require.True(t, ok)
	assert.Equal(t, "acme_prod", info.Schema)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Validate("acme"))
	assert.NoError(t, Validate("tenant-42_x"))

	var invalid *InvalidError
	assert.ErrorAs(t, Validate(""), &invalid)
	assert.ErrorAs(t, Validate("bad'); DROP TABLE"), &invalid)
	assert.ErrorAs(t, Validate(ID(string(make([]byte, 100)))), &invalid)
}

func TestRowLevelPredicate(t *testing.T) {
	t.Parallel()
	s := NewScoper(RowLevel)

	f, err := s.Predicate(WithTenant(context.Background(), "acme"))
	require.NoError(t, err)
	require.NotNil(t, f)

	b := lsql.NewBuilder(dialect.CapsFor(dialect.Postgres), lsql.SimpleSelect)
	require.NoError(t, f.Lower(b))
	query, args := b.Build()
	assert.Equal(t, `"tenant_id" = $1`, query)
	assert.Equal(t, []any{"acme"}, args)
}

func TestRowLevelMissingTenant(t *testing.T) {
	t.Parallel()
	// Optional scoping: no tenant means no predicate.
	f, err := NewScoper(RowLevel).Predicate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f)

	// Required scoping: missing tenant is an error.
	_, err = NewScoper(RowLevel, Required()).Predicate(context.Background())
	var reqErr *RequiredError
	assert.ErrorAs(t, err, &reqErr)
}

func TestRowLevelSuperuserBypass(t *testing.T) {
	t.Parallel()
	s := NewScoper(RowLevel, Required())
	f, err := s.Predicate(WithSuperuser(context.Background()))
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestRowLevelCustomColumn(t *testing.T) {
	t.Parallel()
	s := NewScoper(RowLevel, WithColumn("org_id"))
	f, err := s.Predicate(WithTenant(context.Background(), "acme"))
	require.NoError(t, err)

	b := lsql.NewBuilder(dialect.CapsFor(dialect.Postgres), lsql.SimpleSelect)
	require.NoError(t, f.Lower(b))
	query, _ := b.Build()
	assert.Equal(t, `"org_id" = $1`, query)
}

func TestSchemaBasedScope(t *testing.T) {
	t.Parallel()
	s := NewScoper(SchemaBased)
	ctx, err := s.Scope(WithTenant(context.Background(), "acme"))
	require.NoError(t, err)

	v, ok := lsql.SessionVar(ctx, "search_path")
	require.True(t, ok)
	assert.Equal(t, "tenant_acme", v)

	// Explicit schema wins over the prefix.
	ctx, err = s.Scope(WithInfo(context.Background(), Info{ID: "acme", Schema: "acme_prod"}))
	require.NoError(t, err)
	v, _ = lsql.SessionVar(ctx, "search_path")
	assert.Equal(t, "acme_prod", v)
}

func TestSchemaBasedRejectsBadID(t *testing.T) {
	t.Parallel()
	s := NewScoper(SchemaBased)
	_, err := s.Scope(WithTenant(context.Background(), "bad schema"))
	var invalid *InvalidError
	assert.ErrorAs(t, err, &invalid)
}

func TestSchemaScopeExecutesSearchPath(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	drv := lsql.OpenDB(dialect.Postgres, db)

	s := NewScoper(SchemaBased)
	ctx, err := s.Scope(WithTenant(context.Background(), "acme"))
	require.NoError(t, err)

	mock.ExpectExec("SET search_path = 'tenant_acme'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	rows := &lsql.Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouter(t *testing.T) {
	t.Parallel()
	opened := map[ID]int{}
	r := NewRouter(func(id ID) (dialect.Driver, error) {
		opened[id]++
		db, _, err := sqlmock.New()
		if err != nil {
			return nil, err
		}
		return lsql.OpenDB(dialect.Postgres, db), nil
	})
	t.Cleanup(func() { _ = r.Close() })

	a, err := r.Route("acme")
	require.NoError(t, err)
	again, err := r.Route("acme")
	require.NoError(t, err)
	assert.Same(t, a, again, "drivers are reused")
	assert.Equal(t, 1, opened["acme"])

	_, err = r.Route("other")
	require.NoError(t, err)
	assert.ElementsMatch(t, []ID{"acme", "other"}, r.Tenants())

	_, err = r.Route("bad id")
	var invalid *InvalidError
	assert.ErrorAs(t, err, &invalid)
}

func TestRouterOpenerFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("dns failure")
	r := NewRouter(func(ID) (dialect.Driver, error) { return nil, boom })
	_, err := r.Route("acme")
	assert.ErrorIs(t, err, boom)
}

func TestScoperDriverRouting(t *testing.T) {
	t.Parallel()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	fallback := lsql.OpenDB(dialect.Postgres, db)

	r := NewRouter(nil)
	tenantDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tenantDB.Close() })
	routed := lsql.OpenDB(dialect.Postgres, tenantDB)
	r.Register("acme", routed)

	s := NewScoper(DatabaseBased, WithRouter(r))
	got, err := s.Driver(WithTenant(context.Background(), "acme"), fallback)
	require.NoError(t, err)
	assert.Same(t, dialect.Driver(routed), got)

	// No tenant falls back unless required.
	got, err = s.Driver(context.Background(), fallback)
	require.NoError(t, err)
	assert.Same(t, dialect.Driver(fallback), got)

	_, err = NewScoper(DatabaseBased, WithRouter(r), Required()).
		Driver(context.Background(), fallback)
	var reqErr *RequiredError
	assert.ErrorAs(t, err, &reqErr)
}

// Package tenant carries multi-tenancy through context: a tenant id,
// the isolation strategy, and the routing that turns an id into the
// right predicate, schema or database.
package tenant

import (
	"context"
	"fmt"
	"regexp"

	"github.com/lode-orm/lode/dialect"
	lsql "github.com/lode-orm/lode/dialect/sql"
)

// ID identifies one tenant.
type ID string

// Strategy is the isolation model.
type Strategy int

const (
	// RowLevel shares tables; every query is scoped by a tenant
	// column predicate.
	RowLevel Strategy = iota
	// SchemaBased gives each tenant a schema; queries run with the
	// tenant's search path.
	SchemaBased
	// DatabaseBased gives each tenant a separate database connection.
	DatabaseBased
)

func (s Strategy) String() string {
	switch s {
	case SchemaBased:
		return "schema"
	case DatabaseBased:
		return "database"
	default:
		return "row-level"
	}
}

// Info is the resolved tenancy of one request.
type Info struct {
	ID ID
	// Schema is the tenant's schema name under SchemaBased isolation.
	Schema string
	// Superuser bypasses tenant scoping entirely.
	Superuser bool
}

type ctxKey struct{}

// WithTenant returns a context scoped to the tenant id.
func WithTenant(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, Info{ID: id})
}

// WithInfo returns a context carrying full tenancy info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

// WithSuperuser returns a context whose operations bypass tenant
// scoping.
func WithSuperuser(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, Info{Superuser: true})
}

// FromContext returns the tenant id, if any.
func FromContext(ctx context.Context) (ID, bool) {
	info, ok := ctx.Value(ctxKey{}).(Info)
	if !ok || info.ID == "" {
		return "", false
	}
	return info.ID, true
}

// InfoFromContext returns the full tenancy info, if any.
func InfoFromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(ctxKey{}).(Info)
	return info, ok
}

// RequiredError reports an operation that needs a tenant but found
// none in its context.
type RequiredError struct {
	Op string
}

func (e *RequiredError) Error() string {
	if e.Op == "" {
		return "lode/tenant: no tenant in context"
	}
	return fmt.Sprintf("lode/tenant: %s: no tenant in context", e.Op)
}

// InvalidError reports a tenant id that cannot be used safely.
type InvalidError struct {
	ID     ID
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("lode/tenant: invalid tenant %q: %s", e.ID, e.Reason)
}

var tenantIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Validate rejects ids that could not appear in identifiers or
// session variables.
func Validate(id ID) error {
	if id == "" {
		return &InvalidError{ID: id, Reason: "empty"}
	}
	if !tenantIDRe.MatchString(string(id)) {
		return &InvalidError{ID: id, Reason: "must match [A-Za-z0-9_-]{1,64}"}
	}
	return nil
}

// Scoper resolves a request context into the concrete scoping an
// engine applies: a predicate column value, a session schema, or a
// routed driver.
type Scoper struct {
	strategy Strategy
	column   string
	prefix   string
	required bool
	router   *Router
}

// ScoperOption configures a Scoper.
type ScoperOption func(*Scoper)

// WithColumn sets the tenant column for RowLevel scoping. Defaults to
// "tenant_id".
func WithColumn(name string) ScoperOption {
	return func(s *Scoper) { s.column = name }
}

// WithSchemaPrefix prefixes schema names under SchemaBased scoping
// ("tenant_" + id by default).
func WithSchemaPrefix(p string) ScoperOption {
	return func(s *Scoper) { s.prefix = p }
}

// Required makes a missing tenant an error instead of an unscoped
// query.
func Required() ScoperOption {
	return func(s *Scoper) { s.required = true }
}

// WithRouter supplies per-tenant drivers for DatabaseBased scoping.
func WithRouter(r *Router) ScoperOption {
	return func(s *Scoper) { s.router = r }
}

// NewScoper returns a Scoper for the strategy.
func NewScoper(strategy Strategy, opts ...ScoperOption) *Scoper {
	s := &Scoper{strategy: strategy, column: "tenant_id", prefix: "tenant_"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategy returns the isolation model.
func (s *Scoper) Strategy() Strategy { return s.strategy }

// Column returns the RowLevel tenant column.
func (s *Scoper) Column() string { return s.column }

// Predicate returns the filter scoping a RowLevel query to the
// context's tenant. A nil filter means unscoped: superuser, or no
// tenant with Required off. Other strategies never add predicates.
func (s *Scoper) Predicate(ctx context.Context) (*lsql.Filter, error) {
	if s.strategy != RowLevel {
		return nil, nil
	}
	info, ok := InfoFromContext(ctx)
	if ok && info.Superuser {
		return nil, nil
	}
	if !ok || info.ID == "" {
		if s.required {
			return nil, &RequiredError{}
		}
		return nil, nil
	}
	if err := Validate(info.ID); err != nil {
		return nil, err
	}
	return lsql.EQ(s.column, string(info.ID)), nil
}

// Scope returns a context whose driver session carries the tenant's
// schema, for SchemaBased isolation. Row-level and database-based
// strategies return the context unchanged.
func (s *Scoper) Scope(ctx context.Context) (context.Context, error) {
	if s.strategy != SchemaBased {
		return ctx, nil
	}
	info, ok := InfoFromContext(ctx)
	if ok && info.Superuser {
		return ctx, nil
	}
	if !ok || info.ID == "" {
		if s.required {
			return nil, &RequiredError{}
		}
		return ctx, nil
	}
	if err := Validate(info.ID); err != nil {
		return nil, err
	}
	schema := info.Schema
	if schema == "" {
		schema = s.prefix + string(info.ID)
	}
	return lsql.WithSessionVar(ctx, "search_path", schema), nil
}

// Driver returns the tenant's driver under DatabaseBased isolation,
// or the fallback for other strategies.
func (s *Scoper) Driver(ctx context.Context, fallback dialect.Driver) (dialect.Driver, error) {
	if s.strategy != DatabaseBased || s.router == nil {
		return fallback, nil
	}
	info, ok := InfoFromContext(ctx)
	if ok && info.Superuser {
		return fallback, nil
	}
	if !ok || info.ID == "" {
		if s.required {
			return nil, &RequiredError{}
		}
		return fallback, nil
	}
	return s.router.Route(info.ID)
}

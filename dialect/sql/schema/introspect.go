package schema

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lode-orm/lode/dialect"
	lsql "github.com/lode-orm/lode/dialect/sql"
)

// introspectConcurrency bounds parallel per-table catalog queries.
const introspectConcurrency = 8

// Warning is a non-fatal introspection problem scoped to one table.
type Warning struct {
	Table string
	Err   error
}

func (w Warning) String() string {
	return fmt.Sprintf("table %s: %v", w.Table, w.Err)
}

// Inspector reads the live schema of a database.
type Inspector struct {
	drv    *lsql.Driver
	caps   dialect.Caps
	schema string
	log    *slog.Logger
}

// InspectorOption configures an Inspector.
type InspectorOption func(*Inspector)

// WithSchema scopes introspection to a named schema. Defaults to
// "public" on Postgres and the current database elsewhere.
func WithSchema(name string) InspectorOption {
	return func(i *Inspector) { i.schema = name }
}

// WithInspectorLogger sets the structured logger.
func WithInspectorLogger(log *slog.Logger) InspectorOption {
	return func(i *Inspector) { i.log = log }
}

// NewInspector returns an Inspector over the given driver.
func NewInspector(drv *lsql.Driver, opts ...InspectorOption) *Inspector {
	i := &Inspector{drv: drv, caps: drv.Caps(), log: slog.Default()}
	if i.caps.Dialect == dialect.Postgres {
		i.schema = "public"
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inspect reads the full database state. Per-table failures are
// returned as warnings; Inspect fails only when the table list cannot
// be read or no table is readable at all. Tables are fetched
// concurrently with a bounded fan-out.
func (in *Inspector) Inspect(ctx context.Context) (*Schema, []Warning, error) {
	names, err := in.tableNames(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("lode/schema: list tables: %w", err)
	}
	// The migration history table belongs to the migrator, not the
	// schema; diffing it would plan its own removal.
	names = slices.DeleteFunc(names, func(n string) bool { return n == HistoryTable })
	var (
		mu       sync.Mutex
		warnings []Warning
	)
	tables := make([]*Table, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(introspectConcurrency)
	for i, name := range names {
		g.Go(func() error {
			t, err := in.table(gctx, name)
			if err != nil {
				mu.Lock()
				warnings = append(warnings, Warning{Table: name, Err: err})
				mu.Unlock()
				in.log.WarnContext(gctx, "table introspection failed",
					slog.String("table", name), slog.Any("error", err))
				return nil
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, warnings, err
	}
	s := &Schema{Name: in.schema}
	for _, t := range tables {
		if t != nil {
			s.Tables = append(s.Tables, t)
		}
	}
	if len(names) > 0 && len(s.Tables) == 0 {
		return nil, warnings, fmt.Errorf("lode/schema: no tables readable (%d warnings)", len(warnings))
	}
	if in.caps.CreateTypeEnum {
		if err := in.enums(ctx, s); err != nil {
			warnings = append(warnings, Warning{Table: "(enums)", Err: err})
		}
	}
	if err := in.views(ctx, s); err != nil {
		warnings = append(warnings, Warning{Table: "(views)", Err: err})
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Table < warnings[j].Table })
	return s, warnings, nil
}

func (in *Inspector) tableNames(ctx context.Context) ([]string, error) {
	var query string
	var args []any
	switch in.caps.Dialect {
	case dialect.Postgres:
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`
		args = []any{in.schema}
	case dialect.MySQL:
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name`
		args = []any{}
	default:
		query = `SELECT name FROM sqlite_master WHERE type = 'table'
			AND name NOT LIKE 'sqlite_%' ORDER BY name`
		args = []any{}
	}
	return in.stringColumn(ctx, query, args)
}

func (in *Inspector) table(ctx context.Context, name string) (*Table, error) {
	t := &Table{Name: name}
	if err := in.columns(ctx, t); err != nil {
		return nil, err
	}
	if err := in.indexes(ctx, t); err != nil {
		return nil, err
	}
	if err := in.foreignKeys(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (in *Inspector) columns(ctx context.Context, t *Table) error {
	switch in.caps.Dialect {
	case dialect.Postgres:
		return in.pgColumns(ctx, t)
	case dialect.MySQL:
		return in.myColumns(ctx, t)
	default:
		return in.liteColumns(ctx, t)
	}
}

func (in *Inspector) pgColumns(ctx context.Context, t *Table) error {
	// PK membership is probed with EXISTS rather than joins: a column
	// can sit in several constraints (PK and FK on join tables), and a
	// join would return one row per constraint.
	query := `SELECT c.column_name, c.data_type, c.udt_name,
			c.is_nullable = 'YES', COALESCE(c.column_default, ''),
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON kcu.constraint_name = tc.constraint_name
					AND kcu.table_schema = tc.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND kcu.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, query, []any{in.schema, t.Name}, rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c        Column
			dataType string
			udt      string
			pk       bool
		)
		if err := rows.Scan(&c.Name, &dataType, &udt, &c.Nullable, &c.Default, &pk); err != nil {
			return err
		}
		c.Type, c.EnumName = pgColumnType(dataType, udt)
		c.RawType = dataType
		if strings.HasPrefix(c.Default, "nextval(") {
			c.AutoIncrement = true
			c.Default = ""
		}
		// A repeated column name means the catalog returned one row
		// per constraint; keep one column and fold the PK bit.
		if prev := t.Column(c.Name); prev != nil {
			if pk && !slices.Contains(t.PrimaryKey, c.Name) {
				t.PrimaryKey = append(t.PrimaryKey, c.Name)
			}
			continue
		}
		t.Columns = append(t.Columns, &c)
		if pk {
			t.PrimaryKey = append(t.PrimaryKey, c.Name)
		}
	}
	return rows.Err()
}

func pgColumnType(dataType, udt string) (ColumnType, string) {
	switch dataType {
	case "integer", "smallint":
		return TypeInt, ""
	case "bigint":
		return TypeBigInt, ""
	case "double precision", "real":
		return TypeFloat, ""
	case "numeric":
		return TypeDecimal, ""
	case "text", "character varying", "character":
		return TypeString, ""
	case "boolean":
		return TypeBool, ""
	case "timestamp with time zone", "timestamp without time zone", "date", "time without time zone":
		return TypeTime, ""
	case "jsonb", "json":
		return TypeJSON, ""
	case "bytea":
		return TypeBytes, ""
	case "uuid":
		return TypeUUID, ""
	case "USER-DEFINED":
		return TypeEnum, udt
	default:
		return TypeUnknown, ""
	}
}

func (in *Inspector) myColumns(ctx context.Context, t *Table) error {
	query := `SELECT column_name, data_type, column_type,
			is_nullable = 'YES', COALESCE(column_default, ''),
			column_key = 'PRI', extra LIKE '%auto_increment%'
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, query, []any{t.Name}, rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c          Column
			dataType   string
			columnType string
			pk         bool
		)
		if err := rows.Scan(&c.Name, &dataType, &columnType, &c.Nullable, &c.Default, &pk, &c.AutoIncrement); err != nil {
			return err
		}
		c.Type = myColumnType(dataType, columnType)
		c.RawType = columnType
		t.Columns = append(t.Columns, &c)
		if pk {
			t.PrimaryKey = append(t.PrimaryKey, c.Name)
		}
	}
	return rows.Err()
}

func myColumnType(dataType, columnType string) ColumnType {
	switch dataType {
	case "int", "smallint", "mediumint":
		return TypeInt
	case "bigint":
		return TypeBigInt
	case "double", "float":
		return TypeFloat
	case "decimal":
		return TypeDecimal
	case "varchar", "char", "text", "longtext", "mediumtext", "tinytext", "enum":
		return TypeString
	case "tinyint":
		if strings.HasPrefix(columnType, "tinyint(1)") {
			return TypeBool
		}
		return TypeInt
	case "datetime", "timestamp", "date", "time":
		return TypeTime
	case "json":
		return TypeJSON
	case "blob", "longblob", "mediumblob", "tinyblob", "binary", "varbinary":
		return TypeBytes
	default:
		return TypeUnknown
	}
}

func (in *Inspector) liteColumns(ctx context.Context, t *Table) error {
	rows := &lsql.Rows{}
	query := fmt.Sprintf("PRAGMA table_info(%q)", t.Name)
	if err := in.drv.Query(ctx, query, []any{}, rows); err != nil {
		return err
	}
	defer rows.Close()
	type pkCol struct {
		name string
		pos  int
	}
	var pks []pkCol
	for rows.Next() {
		var (
			cid     int
			c       Column
			notNull bool
			dflt    lsql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.RawType, &notNull, &dflt, &pk); err != nil {
			return err
		}
		c.Nullable = !notNull
		c.Default = dflt.String
		c.Type = liteColumnType(c.RawType)
		t.Columns = append(t.Columns, &c)
		if pk > 0 {
			pks = append(pks, pkCol{name: c.Name, pos: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	sort.Slice(pks, func(i, j int) bool { return pks[i].pos < pks[j].pos })
	for _, p := range pks {
		t.PrimaryKey = append(t.PrimaryKey, p.name)
	}
	return nil
}

func liteColumnType(raw string) ColumnType {
	switch strings.ToLower(raw) {
	case "integer", "int", "bigint":
		return TypeInt
	case "real", "double", "float":
		return TypeFloat
	case "text", "varchar", "clob":
		return TypeString
	case "blob":
		return TypeBytes
	case "datetime", "timestamp":
		return TypeTime
	case "boolean":
		return TypeBool
	default:
		return TypeUnknown
	}
}

func (in *Inspector) indexes(ctx context.Context, t *Table) error {
	var query string
	var args []any
	switch in.caps.Dialect {
	case dialect.Postgres:
		query = `SELECT i.relname, a.attname, ix.indisunique, am.amname
			FROM pg_class c
			JOIN pg_index ix ON ix.indrelid = c.oid
			JOIN pg_class i ON i.oid = ix.indexrelid
			JOIN pg_am am ON am.oid = i.relam
			JOIN pg_namespace n ON n.oid = c.relnamespace
			JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(ix.indkey)
			WHERE n.nspname = $1 AND c.relname = $2 AND NOT ix.indisprimary
			ORDER BY i.relname, array_position(ix.indkey, a.attnum)`
		args = []any{in.schema, t.Name}
	case dialect.MySQL:
		query = `SELECT index_name, column_name, non_unique = 0, index_type
			FROM information_schema.statistics
			WHERE table_schema = DATABASE() AND table_name = ? AND index_name <> 'PRIMARY'
			ORDER BY index_name, seq_in_index`
		args = []any{t.Name}
	default:
		return in.liteIndexes(ctx, t)
	}
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer rows.Close()
	byName := map[string]*Index{}
	var order []string
	for rows.Next() {
		var name, col, idxType string
		var unique bool
		if err := rows.Scan(&name, &col, &unique, &idxType); err != nil {
			return err
		}
		idx := byName[name]
		if idx == nil {
			idx = &Index{Name: name, Unique: unique, Type: strings.ToUpper(idxType)}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range order {
		t.Indexes = append(t.Indexes, byName[name])
	}
	return nil
}

func (in *Inspector) liteIndexes(ctx context.Context, t *Table) error {
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, fmt.Sprintf("PRAGMA index_list(%q)", t.Name), []any{}, rows); err != nil {
		return err
	}
	type litIdx struct {
		name   string
		unique bool
	}
	var list []litIdx
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  bool
			origin  string
			partial bool
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return err
		}
		if origin == "pk" {
			continue
		}
		list = append(list, litIdx{name: name, unique: unique})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	for _, li := range list {
		cols, err := in.stringColumnAt(ctx, fmt.Sprintf("PRAGMA index_info(%q)", li.name), 2)
		if err != nil {
			return err
		}
		t.Indexes = append(t.Indexes, &Index{Name: li.name, Columns: cols, Unique: li.unique})
	}
	return nil
}

func (in *Inspector) foreignKeys(ctx context.Context, t *Table) error {
	var query string
	var args []any
	switch in.caps.Dialect {
	case dialect.Postgres:
		query = `SELECT tc.constraint_name, kcu.column_name,
				ccu.table_name, ccu.column_name, rc.delete_rule, rc.update_rule
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
			JOIN information_schema.constraint_column_usage ccu
				ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
			JOIN information_schema.referential_constraints rc
				ON rc.constraint_name = tc.constraint_name AND rc.constraint_schema = tc.table_schema
			WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'FOREIGN KEY'
			ORDER BY tc.constraint_name, kcu.ordinal_position`
		args = []any{in.schema, t.Name}
	case dialect.MySQL:
		query = `SELECT kcu.constraint_name, kcu.column_name,
				kcu.referenced_table_name, kcu.referenced_column_name,
				rc.delete_rule, rc.update_rule
			FROM information_schema.key_column_usage kcu
			JOIN information_schema.referential_constraints rc
				ON rc.constraint_name = kcu.constraint_name AND rc.constraint_schema = kcu.table_schema
			WHERE kcu.table_schema = DATABASE() AND kcu.table_name = ?
				AND kcu.referenced_table_name IS NOT NULL
			ORDER BY kcu.constraint_name, kcu.ordinal_position`
		args = []any{t.Name}
	default:
		return in.liteForeignKeys(ctx, t)
	}
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer rows.Close()
	byName := map[string]*ForeignKey{}
	var order []string
	for rows.Next() {
		var name, col, refTable, refCol, onDelete, onUpdate string
		if err := rows.Scan(&name, &col, &refTable, &refCol, &onDelete, &onUpdate); err != nil {
			return err
		}
		fk := byName[name]
		if fk == nil {
			fk = &ForeignKey{Name: name, RefTable: refTable, OnDelete: onDelete, OnUpdate: onUpdate}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, col)
		fk.RefColumns = append(fk.RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range order {
		t.ForeignKeys = append(t.ForeignKeys, byName[name])
	}
	return nil
}

func (in *Inspector) liteForeignKeys(ctx context.Context, t *Table) error {
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", t.Name), []any{}, rows); err != nil {
		return err
	}
	defer rows.Close()
	byID := map[int]*ForeignKey{}
	var order []int
	for rows.Next() {
		var (
			id, seq                             int
			refTable, from, to, onUpd, onDel, m string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpd, &onDel, &m); err != nil {
			return err
		}
		fk := byID[id]
		if fk == nil {
			fk = &ForeignKey{
				Name:     fmt.Sprintf("%s_fk_%d", t.Name, id),
				RefTable: refTable,
				OnDelete: onDel,
				OnUpdate: onUpd,
			}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, from)
		fk.RefColumns = append(fk.RefColumns, to)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range order {
		t.ForeignKeys = append(t.ForeignKeys, byID[id])
	}
	return nil
}

func (in *Inspector) enums(ctx context.Context, s *Schema) error {
	query := `SELECT t.typname, e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1
		ORDER BY t.typname, e.enumsortorder`
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, query, []any{in.schema}, rows); err != nil {
		return err
	}
	defer rows.Close()
	byName := map[string]*Enum{}
	var order []string
	for rows.Next() {
		var name, label string
		if err := rows.Scan(&name, &label); err != nil {
			return err
		}
		e := byName[name]
		if e == nil {
			e = &Enum{Name: name}
			byName[name] = e
			order = append(order, name)
		}
		e.Values = append(e.Values, label)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range order {
		s.Enums = append(s.Enums, byName[name])
	}
	return nil
}

func (in *Inspector) views(ctx context.Context, s *Schema) error {
	var query string
	var args []any
	switch in.caps.Dialect {
	case dialect.Postgres:
		query = `SELECT table_name, view_definition FROM information_schema.views
			WHERE table_schema = $1 ORDER BY table_name`
		args = []any{in.schema}
	case dialect.MySQL:
		query = `SELECT table_name, view_definition FROM information_schema.views
			WHERE table_schema = DATABASE() ORDER BY table_name`
		args = []any{}
	default:
		query = `SELECT name, sql FROM sqlite_master WHERE type = 'view' ORDER BY name`
		args = []any{}
	}
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var v View
		if err := rows.Scan(&v.Name, &v.Definition); err != nil {
			return err
		}
		s.Views = append(s.Views, &v)
	}
	return rows.Err()
}

func (in *Inspector) stringColumn(ctx context.Context, query string, args []any) ([]string, error) {
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// stringColumnAt scans the column at the given index from each row,
// used for PRAGMA results whose shape is fixed but wide.
func (in *Inspector) stringColumnAt(ctx context.Context, query string, idx int) ([]string, error) {
	rows := &lsql.Rows{}
	if err := in.drv.Query(ctx, query, []any{}, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []string
	for rows.Next() {
		dest := make([]any, len(cols))
		for i := range dest {
			var s lsql.NullString
			dest[i] = &s
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, dest[idx].(*lsql.NullString).String)
	}
	return out, rows.Err()
}

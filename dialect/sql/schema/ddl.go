package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lode-orm/lode/dialect"
)

// quoteIdent wraps name in the dialect quote character. Names that
// embed the quote rune are rejected rather than escaped; escaping
// rules differ per dialect and such names never come from a valid
// schema.
func quoteIdent(q rune, name string) (string, error) {
	if strings.ContainsRune(name, q) {
		return "", fmt.Errorf("lode/schema: invalid identifier %q", name)
	}
	return string(q) + name + string(q), nil
}

// Verdict classifies the data-safety of a migration step.
type Verdict int

const (
	// Safe steps cannot lose or reject data.
	Safe Verdict = iota
	// PotentialLoss steps can discard data or fail on existing rows
	// (dropped columns, narrowed types, new unique constraints).
	PotentialLoss
	// Blocking steps cannot be applied to a populated database at all
	// (required column without a default on a non-empty table).
	Blocking
)

func (v Verdict) String() string {
	switch v {
	case PotentialLoss:
		return "potential-loss"
	case Blocking:
		return "blocking"
	default:
		return "safe"
	}
}

// Step is one migration statement pair with its safety verdict.
type Step struct {
	Up      string
	Down    string
	Verdict Verdict
	// Reason explains a non-Safe verdict.
	Reason string
}

// DataLossError is returned by strict-mode generation when the diff
// contains a blocking step.
type DataLossError struct {
	Reason string
}

func (e *DataLossError) Error() string {
	return "lode/schema: blocked by possible data loss: " + e.Reason
}

// Generator turns a Diff into ordered DDL steps for one dialect.
type Generator struct {
	caps   dialect.Caps
	strict bool
	empty  map[string]bool
	errs   []error
}

// GenOption configures a Generator.
type GenOption func(*Generator)

// WithStrict makes generation fail on blocking steps instead of
// emitting them. The blocking step's up-SQL is withheld.
func WithStrict() GenOption {
	return func(g *Generator) { g.strict = true }
}

// WithEmptyTables marks tables known to hold no rows, downgrading
// their blocking verdicts. Callers typically learn this from a
// shadow-database count.
func WithEmptyTables(names ...string) GenOption {
	return func(g *Generator) {
		for _, n := range names {
			g.empty[n] = true
		}
	}
}

// NewGenerator returns a DDL generator for the given dialect.
func NewGenerator(caps dialect.Caps, opts ...GenOption) *Generator {
	g := &Generator{caps: caps, empty: map[string]bool{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate emits the ordered steps that realize the diff: enum types
// first, then table creation in dependency order, then alterations
// (columns before unique constraints), then drops, then views. In
// strict mode a blocking step withholds its up-SQL and the whole
// generation returns a *DataLossError.
func (g *Generator) Generate(d *Diff) ([]Step, error) {
	g.errs = nil
	var steps []Step
	if g.caps.CreateTypeEnum {
		for _, e := range d.EnumsAdded {
			steps = append(steps, g.createEnum(e))
		}
		for _, ed := range d.EnumsAltered {
			steps = append(steps, g.alterEnum(ed)...)
		}
	}
	for _, t := range d.TablesAdded {
		steps = append(steps, g.createTable(t))
		for _, idx := range t.Indexes {
			steps = append(steps, g.createIndex(t.Name, idx, true))
		}
	}
	for _, td := range d.TablesAltered {
		steps = append(steps, g.alterTable(td)...)
	}
	for _, t := range d.TablesRemoved {
		steps = append(steps, Step{
			Up:      "DROP TABLE " + g.ident(t.Name) + ";",
			Down:    strings.TrimSuffix(g.createTable(t).Up, ";") + ";",
			Verdict: PotentialLoss,
			Reason:  fmt.Sprintf("dropping table %s discards its rows", t.Name),
		})
	}
	if g.caps.CreateTypeEnum {
		for _, e := range d.EnumsRemoved {
			steps = append(steps, Step{
				Up:      "DROP TYPE " + g.ident(e.Name) + ";",
				Down:    g.createEnum(e).Up,
				Verdict: PotentialLoss,
				Reason:  fmt.Sprintf("dropping enum %s", e.Name),
			})
		}
	}
	steps = append(steps, g.viewSteps(d)...)
	if err := errors.Join(g.errs...); err != nil {
		return nil, err
	}
	return g.enforce(steps)
}

func (g *Generator) enforce(steps []Step) ([]Step, error) {
	if !g.strict {
		return steps, nil
	}
	var reasons []string
	for i := range steps {
		if steps[i].Verdict == Blocking {
			reasons = append(reasons, steps[i].Reason)
			steps[i].Up = ""
		}
	}
	if len(reasons) > 0 {
		return steps, &DataLossError{Reason: strings.Join(reasons, "; ")}
	}
	return steps, nil
}

func (g *Generator) createEnum(e *Enum) Step {
	quoted := make([]string, len(e.Values))
	for i, v := range e.Values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return Step{
		Up:   fmt.Sprintf("CREATE TYPE %s AS ENUM (%s);", g.ident(e.Name), strings.Join(quoted, ", ")),
		Down: "DROP TYPE " + g.ident(e.Name) + ";",
	}
}

// alterEnum adds values in place. Removed values have no in-place
// form; a variant rename surfaces as remove+add and is blocking.
func (g *Generator) alterEnum(d *EnumDiff) []Step {
	var steps []Step
	for _, v := range d.Added {
		steps = append(steps, Step{
			Up: fmt.Sprintf("ALTER TYPE %s ADD VALUE IF NOT EXISTS '%s';",
				g.ident(d.Name), strings.ReplaceAll(v, "'", "''")),
			Down: "-- enum values cannot be removed in place",
		})
	}
	for _, v := range d.Removed {
		steps = append(steps, Step{
			Up:      "",
			Down:    "",
			Verdict: Blocking,
			Reason:  fmt.Sprintf("enum %s: value %q cannot be removed without rebuilding the type", d.Name, v),
		})
	}
	return steps
}

func (g *Generator) createTable(t *Table) Step {
	var defs []string
	inlinePK := false
	if g.caps.Dialect == dialect.SQLite && len(t.PrimaryKey) == 1 {
		// SQLite autoincrement requires INTEGER PRIMARY KEY on the
		// column itself.
		if c := t.Column(t.PrimaryKey[0]); c != nil && c.AutoIncrement {
			inlinePK = true
		}
	}
	for _, c := range t.Columns {
		defs = append(defs, g.columnDef(c, inlinePK && c.Name == t.PrimaryKey[0]))
	}
	if len(t.PrimaryKey) > 0 && !inlinePK {
		defs = append(defs, "PRIMARY KEY ("+g.identList(t.PrimaryKey)+")")
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, g.fkDef(fk))
	}
	return Step{
		Up: fmt.Sprintf("CREATE TABLE %s (\n    %s\n);",
			g.ident(t.Name), strings.Join(defs, ",\n    ")),
		Down: "DROP TABLE " + g.ident(t.Name) + ";",
	}
}

func (g *Generator) alterTable(d *TableDiff) []Step {
	var steps []Step
	table := g.ident(d.Name)
	for _, c := range d.ColumnsAdded {
		step := Step{
			Up:   fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", table, g.columnDef(c, false)),
			Down: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", table, g.ident(c.Name)),
		}
		if !c.Nullable && c.Default == "" && !c.AutoIncrement && !g.empty[d.Name] {
			step.Verdict = Blocking
			step.Reason = fmt.Sprintf(
				"adding required column %s.%s without a default fails on existing rows",
				d.Name, c.Name)
		}
		steps = append(steps, step)
	}
	for _, ch := range d.ColumnsAltered {
		steps = append(steps, g.alterColumn(d.Name, ch)...)
	}
	for _, c := range d.ColumnsRemoved {
		steps = append(steps, Step{
			Up:      fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", table, g.ident(c.Name)),
			Down:    fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", table, g.columnDef(c, false)),
			Verdict: PotentialLoss,
			Reason:  fmt.Sprintf("dropping column %s.%s discards its values", d.Name, c.Name),
		})
	}
	// Constraint changes come after column changes so new unique
	// indexes see the final column set.
	for _, idx := range d.IndexesRemoved {
		steps = append(steps, g.dropIndex(d.Name, idx))
	}
	for _, idx := range d.IndexesAdded {
		steps = append(steps, g.createIndex(d.Name, idx, false))
	}
	for _, fk := range d.FKsRemoved {
		steps = append(steps, Step{
			Up:   fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", table, g.ident(fk.Name)),
			Down: fmt.Sprintf("ALTER TABLE %s ADD %s;", table, g.fkDef(fk)),
		})
	}
	for _, fk := range d.FKsAdded {
		steps = append(steps, Step{
			Up:   fmt.Sprintf("ALTER TABLE %s ADD %s;", table, g.fkDef(fk)),
			Down: fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", table, g.ident(fk.Name)),
		})
	}
	if d.PrimaryKeyChanged {
		steps = append(steps, Step{
			Up: fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s, ADD PRIMARY KEY (%s);",
				table, g.ident(d.Name+"_pkey"), g.identList(d.PrimaryKey)),
			Down:    "-- previous primary key must be restored manually",
			Verdict: PotentialLoss,
			Reason:  fmt.Sprintf("changing the primary key of %s", d.Name),
		})
	}
	return steps
}

func (g *Generator) alterColumn(tableName string, ch *ColumnChange) []Step {
	table := g.ident(tableName)
	col := g.ident(ch.To.Name)
	var steps []Step
	if ch.From.Type != ch.To.Type || ch.From.RawType != ch.To.RawType || ch.From.EnumName != ch.To.EnumName {
		step := Step{
			Verdict: PotentialLoss,
			Reason: fmt.Sprintf("changing type of %s.%s from %s to %s may truncate values",
				tableName, ch.To.Name, ch.From.Type, ch.To.Type),
		}
		if !g.caps.AlterColumnType {
			step.Verdict = Blocking
			step.Reason = fmt.Sprintf("%s: %s cannot change column types in place; a table rebuild is required",
				tableName, g.caps.Dialect)
		} else if g.caps.Dialect == dialect.Postgres {
			step.Up = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;",
				table, col, g.columnType(ch.To), col, g.columnType(ch.To))
			step.Down = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;",
				table, col, g.columnType(ch.From), col, g.columnType(ch.From))
		} else {
			step.Up = fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s;", table, g.columnDef(ch.To, false))
			step.Down = fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s;", table, g.columnDef(ch.From, false))
		}
		steps = append(steps, step)
	}
	if ch.From.Nullable != ch.To.Nullable && g.caps.Dialect == dialect.Postgres {
		if ch.To.Nullable {
			steps = append(steps, Step{
				Up:   fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", table, col),
				Down: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", table, col),
			})
		} else {
			steps = append(steps, Step{
				Up:      fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", table, col),
				Down:    fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", table, col),
				Verdict: PotentialLoss,
				Reason:  fmt.Sprintf("%s.%s: NOT NULL fails if existing rows hold NULL", tableName, ch.To.Name),
			})
		}
	}
	if ch.From.Default != ch.To.Default && g.caps.Dialect == dialect.Postgres {
		if ch.To.Default == "" {
			steps = append(steps, Step{
				Up:   fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", table, col),
				Down: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", table, col, g.defaultExpr(ch.From)),
			})
		} else {
			steps = append(steps, Step{
				Up:   fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", table, col, g.defaultExpr(ch.To)),
				Down: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", table, col),
			})
		}
	}
	return steps
}

func (g *Generator) createIndex(tableName string, idx *Index, newTable bool) Step {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if idx.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	sb.WriteString(g.ident(idx.Name))
	sb.WriteString(" ON ")
	sb.WriteString(g.ident(tableName))
	if idx.Type != "" && g.caps.Dialect == dialect.Postgres {
		sb.WriteString(" USING " + idx.Type)
	}
	sb.WriteString(" (" + g.identList(idx.Columns) + ");")
	step := Step{Up: sb.String(), Down: g.dropIndexSQL(tableName, idx)}
	if idx.Unique && !newTable {
		step.Verdict = PotentialLoss
		step.Reason = fmt.Sprintf("unique index %s fails if existing rows collide", idx.Name)
	}
	return step
}

func (g *Generator) dropIndex(tableName string, idx *Index) Step {
	return Step{
		Up:   g.dropIndexSQL(tableName, idx),
		Down: strings.TrimSuffix(g.createIndex(tableName, idx, true).Up, ";") + ";",
	}
}

func (g *Generator) dropIndexSQL(tableName string, idx *Index) string {
	if g.caps.Dialect == dialect.MySQL {
		return fmt.Sprintf("DROP INDEX %s ON %s;", g.ident(idx.Name), g.ident(tableName))
	}
	return "DROP INDEX " + g.ident(idx.Name) + ";"
}

func (g *Generator) viewSteps(d *Diff) []Step {
	var steps []Step
	for _, v := range d.ViewsAdded {
		steps = append(steps, Step{
			Up:   fmt.Sprintf("CREATE VIEW %s AS %s;", g.ident(v.Name), strings.TrimSuffix(v.Definition, ";")),
			Down: "DROP VIEW " + g.ident(v.Name) + ";",
		})
	}
	for _, v := range d.ViewsAltered {
		steps = append(steps, Step{
			Up: fmt.Sprintf("DROP VIEW %s;\nCREATE VIEW %s AS %s;",
				g.ident(v.Name), g.ident(v.Name), strings.TrimSuffix(v.Definition, ";")),
			Down: "-- previous view definition must be restored manually",
		})
	}
	for _, v := range d.ViewsRemoved {
		steps = append(steps, Step{
			Up:   "DROP VIEW " + g.ident(v.Name) + ";",
			Down: fmt.Sprintf("CREATE VIEW %s AS %s;", g.ident(v.Name), strings.TrimSuffix(v.Definition, ";")),
		})
	}
	return steps
}

func (g *Generator) columnDef(c *Column, inlinePK bool) string {
	var sb strings.Builder
	sb.WriteString(g.ident(c.Name))
	sb.WriteByte(' ')
	sb.WriteString(g.columnType(c))
	if inlinePK {
		sb.WriteString(" PRIMARY KEY AUTOINCREMENT")
		return sb.String()
	}
	if !c.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if c.AutoIncrement && g.caps.Dialect == dialect.MySQL {
		sb.WriteString(" AUTO_INCREMENT")
	}
	if c.Default != "" {
		sb.WriteString(" DEFAULT " + g.defaultExpr(c))
	}
	return sb.String()
}

func (g *Generator) columnType(c *Column) string {
	if c.Type == TypeUnknown && c.RawType != "" {
		return c.RawType
	}
	switch g.caps.Dialect {
	case dialect.Postgres:
		return pgType(c)
	case dialect.MySQL:
		return myType(c)
	default:
		return liteType(c)
	}
}

func pgType(c *Column) string {
	switch c.Type {
	case TypeInt:
		if c.AutoIncrement {
			return "serial"
		}
		return "integer"
	case TypeBigInt:
		if c.AutoIncrement {
			return "bigserial"
		}
		return "bigint"
	case TypeFloat:
		return "double precision"
	case TypeDecimal:
		return "numeric(65,30)"
	case TypeString:
		return "text"
	case TypeBool:
		return "boolean"
	case TypeTime:
		return "timestamptz"
	case TypeJSON:
		return "jsonb"
	case TypeBytes:
		return "bytea"
	case TypeUUID:
		return "uuid"
	case TypeEnum:
		return `"` + c.EnumName + `"`
	default:
		return "text"
	}
}

func myType(c *Column) string {
	switch c.Type {
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "double"
	case TypeDecimal:
		return "decimal(65,30)"
	case TypeString:
		return "varchar(191)"
	case TypeBool:
		return "tinyint(1)"
	case TypeTime:
		return "datetime(3)"
	case TypeJSON:
		return "json"
	case TypeBytes:
		return "longblob"
	case TypeUUID:
		return "char(36)"
	case TypeEnum:
		// Enum columns are plain strings; the application enforces
		// the value set.
		return "varchar(191)"
	default:
		return "longtext"
	}
}

func liteType(c *Column) string {
	switch c.Type {
	case TypeInt, TypeBigInt, TypeBool:
		return "integer"
	case TypeFloat, TypeDecimal:
		return "real"
	case TypeBytes:
		return "blob"
	case TypeTime:
		return "datetime"
	default:
		return "text"
	}
}

func (g *Generator) defaultExpr(c *Column) string {
	switch c.Default {
	case "now()":
		switch g.caps.Dialect {
		case dialect.Postgres:
			return "now()"
		case dialect.MySQL:
			return "CURRENT_TIMESTAMP(3)"
		default:
			return "CURRENT_TIMESTAMP"
		}
	case "uuid()":
		switch g.caps.Dialect {
		case dialect.Postgres:
			return "gen_random_uuid()"
		case dialect.MySQL:
			return "(uuid())"
		default:
			// SQLite has no UUID function; the engine fills the value.
			return "NULL"
		}
	default:
		return c.Default
	}
}

func (g *Generator) fkDef(fk *ForeignKey) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		g.ident(fk.Name), g.identList(fk.Columns), g.ident(fk.RefTable), g.identList(fk.RefColumns))
	if fk.OnDelete != "" {
		sb.WriteString(" ON DELETE " + fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		sb.WriteString(" ON UPDATE " + fk.OnUpdate)
	}
	return sb.String()
}

func (g *Generator) ident(name string) string {
	s, err := quoteIdent(g.caps.Quote, name)
	if err != nil {
		g.errs = append(g.errs, err)
	}
	return s
}

func (g *Generator) identList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = g.ident(n)
	}
	return strings.Join(out, ", ")
}

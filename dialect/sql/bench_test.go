package sql

import (
	"testing"

	"github.com/lode-orm/lode/dialect"
)

func BenchmarkBuilder_SimpleSelect(b *testing.B) {
	for _, d := range []string{dialect.SQLite, dialect.MySQL, dialect.Postgres} {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			caps := dialect.CapsFor(d)
			builder := NewBuilder(caps, SimpleSelect)
			for i := 0; i < b.N; i++ {
				builder.Reset()
				builder.WriteString("SELECT ").Ident("id").WriteString(", ").Ident("email").
					WriteString(" FROM ").Ident("users").
					WriteString(" WHERE ").Ident("id").WriteString(" = ").Arg(1)
				builder.Build()
			}
		})
	}
}

func BenchmarkBuilder_BulkInsert(b *testing.B) {
	for _, d := range []string{dialect.SQLite, dialect.MySQL, dialect.Postgres} {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			caps := dialect.CapsFor(d)
			builder := NewBuilder(caps, BulkInsert)
			for i := 0; i < b.N; i++ {
				builder.Reset()
				builder.WriteString("INSERT INTO ").Ident("users").
					WriteString(" (").Ident("name").WriteString(", ").Ident("age").
					WriteString(") VALUES ")
				for row := 0; row < 10; row++ {
					if row > 0 {
						builder.WriteString(", ")
					}
					builder.WriteByte('(').Args("Ann", 30).WriteByte(')')
				}
				builder.Build()
			}
		})
	}
}

func BenchmarkFilter_Lower(b *testing.B) {
	f := And(
		EQ("tenant_id", "t1"),
		In("status", "active", "pending"),
		Or(GT("age", 18), NotNull("verified_at")),
	)
	for _, d := range []string{dialect.MySQL, dialect.Postgres} {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			caps := dialect.CapsFor(d)
			builder := NewBuilder(caps, ComplexSelect)
			for i := 0; i < b.N; i++ {
				builder.Reset()
				_ = f.Lower(builder)
				builder.Build()
			}
		})
	}
}

func BenchmarkCursor_Predicate(b *testing.B) {
	order := OrderBy{{Column: "created_at", Dir: Desc}, {Column: "id", Dir: Asc}}
	c := &Cursor{
		Entries: []CursorEntry{
			{Column: "created_at", Value: "2024-05-01"},
			{Column: "id", Value: 42},
		},
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = c.Predicate(order)
	}
}

// Package gen turns a validated schema into typed Go client code: one
// file per model with the entity struct, column constants, typed
// filter fields and the row mapper the engine replays results
// through, plus one file for the schema's enums.
package gen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"
	"golang.org/x/sync/errgroup"

	"github.com/lode-orm/lode/schema/ast"
)

// lsqlPkg is the import path of the filter and predicate types the
// generated code references.
const lsqlPkg = "github.com/lode-orm/lode/dialect/sql"

// Config directs a generation run.
type Config struct {
	// Package is the generated package name.
	Package string
	// Target is the output directory.
	Target string
	// Header is an optional comment placed at the top of every file,
	// after the generated-code marker.
	Header string
	// Workers bounds parallel file writes. Defaults to GOMAXPROCS.
	Workers int
}

func (c *Config) defaults() {
	if c.Package == "" {
		c.Package = "model"
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
}

// File is one generated output file.
type File struct {
	// Name is the file name relative to the target directory.
	Name string
	src  *jen.File
}

// Generate renders the schema and writes the files under cfg.Target,
// in parallel. The render itself is pure; only the writes touch the
// filesystem.
func Generate(ctx context.Context, s *ast.Schema, cfg Config) error {
	files, err := Render(s, cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Target, 0o755); err != nil {
		return fmt.Errorf("compiler/gen: create target: %w", err)
	}
	eg, ctx := errgroup.WithContext(ctx)
	cfg.defaults()
	eg.SetLimit(cfg.Workers)
	for _, f := range files {
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			path := filepath.Join(cfg.Target, f.Name)
			if err := f.src.Save(path); err != nil {
				return fmt.Errorf("compiler/gen: write %s: %w", f.Name, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Render builds the generated files without writing them.
func Render(s *ast.Schema, cfg Config) ([]File, error) {
	cfg.defaults()
	var files []File
	if len(s.Enums) > 0 {
		files = append(files, File{Name: "enums.go", src: genEnums(s, cfg)})
	}
	for _, m := range s.Models {
		files = append(files, File{
			Name: inflect.Underscore(m.Name()) + ".go",
			src:  genModel(s, m, cfg),
		})
	}
	return files, nil
}

func newFile(cfg Config) *jen.File {
	f := jen.NewFile(cfg.Package)
	f.HeaderComment("Code generated by lode, DO NOT EDIT.")
	if cfg.Header != "" {
		f.HeaderComment(cfg.Header)
	}
	return f
}

// genEnums emits one Go string type per schema enum, with a constant
// per variant and a validity check over the database values.
func genEnums(s *ast.Schema, cfg Config) *jen.File {
	f := newFile(cfg)
	for _, e := range s.Enums {
		name := exportName(e.Name())
		f.Commentf("%s is the %s enum of the schema.", name, e.Name())
		f.Type().Id(name).String()
		f.Const().DefsFunc(func(g *jen.Group) {
			for _, v := range e.Variants {
				// Variant spelling is kept verbatim (RoleADMIN), matching
				// the schema's casing.
				g.Id(name + v.Ident.Name).Id(name).Op("=").Lit(v.Value())
			}
		})
		f.Commentf("Valid reports whether the value is a declared %s variant.", e.Name())
		f.Func().Params(jen.Id("e").Id(name)).Id("Valid").Params().Bool().Block(
			jen.Switch(jen.Id("e")).Block(
				jen.CaseFunc(func(g *jen.Group) {
					for _, v := range e.Variants {
						g.Id(name + v.Ident.Name)
					}
				}).Block(jen.Return(jen.True())),
			),
			jen.Return(jen.False()),
		)
		f.Func().Params(jen.Id("e").Id(name)).Id("String").Params().String().Block(
			jen.Return(jen.String().Call(jen.Id("e"))),
		)
	}
	return f
}

func genModel(s *ast.Schema, m *ast.Model, cfg Config) *jen.File {
	f := newFile(cfg)
	name := exportName(m.Name())
	cols := columnFields(s, m)

	f.Commentf("%s is the model entity for the %s schema.", name, m.Name())
	f.Type().Id(name).StructFunc(func(g *jen.Group) {
		for _, fld := range cols {
			g.Id(exportName(fld.Name())).Add(goType(s, fld)).Tag(map[string]string{
				"json": fld.Name(),
			})
		}
	})

	f.Commentf("%sTable is the table the model maps to.", name)
	f.Const().Id(name + "Table").Op("=").Lit(m.TableName())

	f.Comment("Column names of the model's table.")
	f.Const().DefsFunc(func(g *jen.Group) {
		for _, fld := range cols {
			g.Id(name + "Column" + exportName(fld.Name())).Op("=").Lit(fld.ColumnName())
		}
	})

	f.Commentf("%sColumns lists every column of the table in schema order.", name)
	f.Var().Id(name + "Columns").Op("=").Index().String().ValuesFunc(func(g *jen.Group) {
		for _, fld := range cols {
			g.Id(name + "Column" + exportName(fld.Name()))
		}
	})

	genPredicates(f, s, name, cols)
	genMapper(f, s, name, cols)
	genWriteHints(f, name, cols)
	return f
}

// genPredicates emits one typed filter field per column, so call
// sites write Where(UserEmail.EQ("x")) instead of spelling columns.
func genPredicates(f *jen.File, s *ast.Schema, name string, cols []*ast.Field) {
	f.Comment("Typed filter fields, one per column.")
	f.Var().DefsFunc(func(g *jen.Group) {
		for _, fld := range cols {
			g.Id(name + exportName(fld.Name())).Op("=").
				Qual(lsqlPkg, predicateType(s, fld)).Call(jen.Id(name + "Column" + exportName(fld.Name())))
		}
	})
}

// genMapper emits the RowMapper for the model: destinations are
// matched to the result's columns by name, so partial selects and
// reordered columns decode correctly. Unknown columns are discarded.
func genMapper(f *jen.File, s *ast.Schema, name string, cols []*ast.Field) {
	f.Commentf("Scan%s decodes one result row into a *%s.", name, name)
	f.Func().Id("Scan"+name).Params(
		jen.Id("columns").Index().String(),
		jen.Id("scan").Func().Params(jen.Id("dest").Op("...").Any()).Error(),
	).Params(jen.Any(), jen.Error()).Block(
		jen.Var().Id("m").Id(name),
		jen.Id("dest").Op(":=").Make(jen.Index().Any(), jen.Len(jen.Id("columns"))),
		jen.For(jen.List(jen.Id("i"), jen.Id("c")).Op(":=").Range().Id("columns")).Block(
			jen.Switch(jen.Id("c")).BlockFunc(func(g *jen.Group) {
				for _, fld := range cols {
					g.Case(jen.Id(name + "Column" + exportName(fld.Name()))).Block(
						jen.Id("dest").Index(jen.Id("i")).Op("=").Op("&").Id("m").Dot(exportName(fld.Name())),
					)
				}
				g.Default().Block(
					jen.Id("dest").Index(jen.Id("i")).Op("=").New(jen.Any()),
				)
			}),
		),
		jen.If(jen.Err().Op(":=").Id("scan").Call(jen.Id("dest").Op("...")), jen.Err().Op("!=").Nil()).Block(
			jen.Return(jen.Nil(), jen.Err()),
		),
		jen.Return(jen.Op("&").Id("m"), jen.Nil()),
	)
}

// genWriteHints emits the column lists the engine consults on writes:
// @auto UUID primary keys to fill and @updatedAt columns to touch.
func genWriteHints(f *jen.File, name string, cols []*ast.Field) {
	var auto, touch []*ast.Field
	for _, fld := range cols {
		if fld.HasAttribute(ast.AttrAuto) && fld.Type.Kind == ast.KindScalar && fld.Type.Scalar == ast.ScalarUUID {
			auto = append(auto, fld)
		}
		if fld.HasAttribute(ast.AttrUpdatedAt) {
			touch = append(touch, fld)
		}
	}
	if len(auto) > 0 {
		f.Commentf("%sAutoUUID names the columns filled with a fresh UUID on insert.", name)
		f.Var().Id(name + "AutoUUID").Op("=").Index().String().ValuesFunc(func(g *jen.Group) {
			for _, fld := range auto {
				g.Id(name + "Column" + exportName(fld.Name()))
			}
		})
	}
	if len(touch) > 0 {
		f.Commentf("%sTouch names the columns stamped with now on every write.", name)
		f.Var().Id(name + "Touch").Op("=").Index().String().ValuesFunc(func(g *jen.Group) {
			for _, fld := range touch {
				g.Id(name + "Column" + exportName(fld.Name()))
			}
		})
	}
}

// columnFields returns the model's fields that map to table columns,
// excluding relation fields and @omit fields.
func columnFields(s *ast.Schema, m *ast.Model) []*ast.Field {
	out := make([]*ast.Field, 0, len(m.Fields))
	for _, fld := range m.Fields {
		if fld.HasAttribute(ast.AttrOmit) {
			continue
		}
		if isRelation(s, fld) {
			continue
		}
		out = append(out, fld)
	}
	return out
}

func isRelation(s *ast.Schema, f *ast.Field) bool {
	switch f.Type.Kind {
	case ast.KindModel:
		return true
	case ast.KindNamed:
		_, ok := s.Model(f.Type.Name)
		return ok
	}
	return false
}

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lode-orm/lode/config"
	"github.com/lode-orm/lode/dialect"
	lsql "github.com/lode-orm/lode/dialect/sql"
	"github.com/lode-orm/lode/schema/ast"
	"github.com/lode-orm/lode/schema/parser"
	"github.com/lode-orm/lode/schema/validate"
)

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func loadSchema(path string) (*ast.Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	return validate.Schema(s)
}

// openDriver connects using a dialect://... URL. MySQL URLs are
// rewritten to the driver's own DSN form.
func openDriver(dbURL string) (*lsql.Driver, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("no database_url configured")
	}
	switch {
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return lsql.Open(dialect.Postgres, dbURL)
	case strings.HasPrefix(dbURL, "mysql://"):
		dsn, err := mysqlDSN(dbURL)
		if err != nil {
			return nil, err
		}
		return lsql.Open(dialect.MySQL, dsn)
	case strings.HasPrefix(dbURL, "sqlite://"):
		return lsql.Open(dialect.SQLite, strings.TrimPrefix(dbURL, "sqlite://"))
	case strings.HasPrefix(dbURL, "file:"):
		return lsql.Open(dialect.SQLite, dbURL)
	}
	return nil, fmt.Errorf("unsupported database url %q", dbURL)
}

func mysqlDSN(dbURL string) (string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	var sb strings.Builder
	if u.User != nil {
		sb.WriteString(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			sb.WriteString(":")
			sb.WriteString(pw)
		}
		sb.WriteString("@")
	}
	sb.WriteString("tcp(")
	sb.WriteString(u.Host)
	sb.WriteString(")")
	sb.WriteString(u.Path)
	if u.RawQuery != "" {
		sb.WriteString("?")
		sb.WriteString(u.RawQuery)
	}
	return sb.String(), nil
}

// cliContext is cancelled on SIGINT or SIGTERM.
func cliContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

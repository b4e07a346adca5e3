package connectors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryConnector, "sql", func() any { return &SQL{} })
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLOptions configures SQL.
type SQLOptions struct {
	// Driver is "sqlite" or "mysql".
	Driver string `option:"driver" default:"sqlite"`
	DSN    string `option:"dsn"`
	Table  string `option:"table" default:"stoq_results"`
}

// SQL stores envelopes as JSON rows in a SQLite or MySQL table.
type SQL struct {
	Options SQLOptions

	db *sql.DB
}

func (s *SQL) OptionTarget() any { return &s.Options }

func (s *SQL) Activate(ctx context.Context, _ *plugin.Instance) error {
	switch s.Options.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("sql: unsupported driver %q", s.Options.Driver)
	}
	if s.Options.DSN == "" {
		return errors.New("sql: dsn is required")
	}
	if !tableName.MatchString(s.Options.Table) {
		return fmt.Errorf("sql: invalid table name %q", s.Options.Table)
	}

	db, err := sql.Open(s.Options.Driver, s.Options.DSN)
	if err != nil {
		return fmt.Errorf("sql: open: %w", err)
	}
	if s.Options.Driver == "mysql" {
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(10 * time.Minute)
	} else {
		// SQLite serializes writers.
		db.SetMaxOpenConns(1)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("sql: ping: %w", err)
	}
	if _, err := db.ExecContext(pctx, s.schema()); err != nil {
		_ = db.Close()
		return fmt.Errorf("sql: bootstrap %s: %w", s.Options.Table, err)
	}
	s.db = db
	return nil
}

func (s *SQL) schema() string {
	body := "TEXT"
	if s.Options.Driver == "mysql" {
		body = "LONGTEXT"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  uuid       VARCHAR(64) PRIMARY KEY,
  plugin     VARCHAR(255) NOT NULL,
  payloads   INTEGER NOT NULL,
  created_at VARCHAR(64) NOT NULL,
  body       %s NOT NULL
)`, s.Options.Table, body)
}

func (s *SQL) Save(ctx context.Context, env map[string]any) (map[string]any, error) {
	if s.db == nil {
		return nil, errors.New("sql: connector not activated")
	}
	data, err := results.Marshal(env)
	if err != nil {
		return nil, err
	}
	id, _ := env[results.KeyUUID].(string)
	pluginName, _ := env[results.KeyPlugin].(string)
	date, _ := env[results.KeyDate].(string)
	payloads, _ := env[results.KeyPayloads].(int)

	query := fmt.Sprintf("INSERT INTO %s (uuid, plugin, payloads, created_at, body) VALUES (?, ?, ?, ?, ?)", s.Options.Table)
	if _, err := s.db.ExecContext(ctx, query, id, pluginName, payloads, date, string(data)); err != nil {
		return nil, fmt.Errorf("sql: insert: %w", err)
	}
	return map[string]any{"table": s.Options.Table, "uuid": id}, nil
}

func (s *SQL) Deactivate() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

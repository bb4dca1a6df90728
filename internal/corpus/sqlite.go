package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver (CGO)
)

const schema = `
CREATE TABLE IF NOT EXISTS functions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	src_file TEXT NOT NULL,
	line INTEGER NOT NULL,
	parameter_types TEXT NOT NULL,
	return_type TEXT NOT NULL,
	globals TEXT NOT NULL DEFAULT '',
	misc TEXT NOT NULL DEFAULT '[]',
	tokens INTEGER NOT NULL,
	text TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS typedefs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	src_file TEXT NOT NULL,
	line INTEGER NOT NULL,
	text TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS globals (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	src_file TEXT NOT NULL,
	line INTEGER NOT NULL,
	text TEXT NOT NULL
);
`

// SQLiteSink stores records in one table per declaration kind. Writing the
// same record twice keeps a single row.
type SQLiteSink struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open corpus database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create corpus schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, r Record) error {
	var err error
	switch r.Kind {
	case "function":
		misc, merr := json.Marshal(append([]string{}, r.Misc...))
		if merr != nil {
			return fmt.Errorf("record %s: %w", r.ID, merr)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO functions (id, name, src_file, line, parameter_types, return_type, globals, misc, tokens, text) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.SrcFile, r.Line, strings.Join(r.ParameterTypes, ParamSeparator), r.ReturnType,
			strings.Join(r.Globals, ParamSeparator), string(misc), r.Tokens, r.Text)
	case "typedef", "global":
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO `+r.Kind+`s (id, name, src_file, line, text) VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.SrcFile, r.Line, r.Text)
	default:
		return fmt.Errorf("record %s: unknown kind %q", r.ID, r.Kind)
	}
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", r.Kind, r.Name, err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// LoadSQLite reads every record back out of a corpus database.
func LoadSQLite(ctx context.Context, path string) ([]Record, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open corpus database: %w", err)
	}
	defer db.Close()

	var out []Record
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, src_file, line, parameter_types, return_type, globals, misc, tokens, text FROM functions ORDER BY src_file, line`)
	if err != nil {
		return nil, fmt.Errorf("query functions: %w", err)
	}
	for rows.Next() {
		r := Record{Kind: "function"}
		var params, globals, misc string
		if err := rows.Scan(&r.ID, &r.Name, &r.SrcFile, &r.Line, &params, &r.ReturnType, &globals, &misc, &r.Tokens, &r.Text); err != nil {
			rows.Close()
			return nil, err
		}
		if params != "" {
			r.ParameterTypes = strings.Split(params, ParamSeparator)
		}
		if globals != "" {
			r.Globals = strings.Split(globals, ParamSeparator)
		}
		if err := json.Unmarshal([]byte(misc), &r.Misc); err != nil {
			rows.Close()
			return nil, fmt.Errorf("function %s misc: %w", r.ID, err)
		}
		if len(r.Misc) == 0 {
			r.Misc = nil
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, kind := range []string{"typedef", "global"} {
		rows, err := db.QueryContext(ctx, `SELECT id, name, src_file, line, text FROM `+kind+`s ORDER BY src_file, line`)
		if err != nil {
			return nil, fmt.Errorf("query %ss: %w", kind, err)
		}
		for rows.Next() {
			r := Record{Kind: kind}
			if err := rows.Scan(&r.ID, &r.Name, &r.SrcFile, &r.Line, &r.Text); err != nil {
				rows.Close()
				return nil, err
			}
			r.Tokens = Tokens(r.Text)
			out = append(out, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

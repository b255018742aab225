// Package stats collects simulation statistics and records them into an
// SQLite database.
package stats

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
)

// ErrUnknownTable is returned when inserting into a table that was never
// created.
var ErrUnknownTable = errors.New("table does not exist")

const defaultBatchSize = 100000

type table struct {
	structType reflect.Type
	columns    []string
	entries    []any
}

// Recorder buffers rows of flat structs and writes them into SQLite tables
// in batched transactions.
type Recorder struct {
	db   *sql.DB
	path string

	tables    map[string]*table
	order     []string
	batchSize int
	pending   int
}

// NewRecorder creates the database name.sqlite3. An empty name selects a
// unique one. It is an error for the file to exist already.
func NewRecorder(name string) (*Recorder, error) {
	if name == "" {
		name = "micros_stats_" + xid.New().String()
	}

	path := strings.TrimSuffix(name, ".sqlite3") + ".sqlite3"
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file %s already exists", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", path)

	return &Recorder{
		db:        db,
		path:      path,
		tables:    make(map[string]*table),
		batchSize: defaultBatchSize,
	}, nil
}

// Path returns the database file name.
func (r *Recorder) Path() string { return r.path }

// DB returns the underlying database connection.
func (r *Recorder) DB() *sql.DB { return r.db }

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func columnsOf(t reflect.Type) ([]string, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entry of type %s is not a struct", t)
	}

	columns := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || !isAllowedKind(field.Type.Kind()) {
			return nil, fmt.Errorf("field %s of %s cannot be recorded", field.Name, t)
		}
		columns = append(columns, field.Name)
	}

	return columns, nil
}

// quoteIdent quotes a table or column name so SQL keywords such as Commit
// can be used as field names.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTable creates a table with one column per field of sampleEntry.
func (r *Recorder) CreateTable(name string, sampleEntry any) error {
	t := reflect.TypeOf(sampleEntry)
	columns, err := columnsOf(t)
	if err != nil {
		return err
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}

	query := "CREATE TABLE " + quoteIdent(name) +
		" (\n\t" + strings.Join(quoted, ", \n\t") + "\n);"
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	r.tables[name] = &table{structType: t, columns: columns}
	r.order = append(r.order, name)

	return nil
}

// Insert buffers entry for the named table. Buffered rows are flushed when
// the batch is full.
func (r *Recorder) Insert(name string, entry any) error {
	t, ok := r.tables[name]
	if !ok {
		return fmt.Errorf("insert into %s: %w", name, ErrUnknownTable)
	}
	if reflect.TypeOf(entry) != t.structType {
		return fmt.Errorf("insert into %s: entry is a %T, want %s",
			name, entry, t.structType)
	}

	t.entries = append(t.entries, entry)
	r.pending++

	if r.pending >= r.batchSize {
		return r.Flush()
	}

	return nil
}

// Tables returns the names of the tables in creation order.
func (r *Recorder) Tables() []string {
	return append([]string(nil), r.order...)
}

// Flush writes every buffered row in one transaction.
func (r *Recorder) Flush() error {
	if r.pending == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	for _, name := range r.order {
		if err := r.flushTable(tx, name, r.tables[name]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, t := range r.tables {
		t.entries = nil
	}
	r.pending = 0

	return nil
}

func (r *Recorder) flushTable(tx *sql.Tx, name string, t *table) error {
	if len(t.entries) == 0 {
		return nil
	}

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	stmt, err := tx.Prepare("INSERT INTO " + quoteIdent(name) + " VALUES (" + marks + ")")
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", name, err)
	}
	defer stmt.Close()

	values := make([]any, len(t.columns))
	for _, entry := range t.entries {
		v := reflect.ValueOf(entry)
		for i := range values {
			values[i] = v.Field(i).Interface()
		}

		if _, err := stmt.Exec(values...); err != nil {
			return fmt.Errorf("insert into %s: %w", name, err)
		}
	}

	return nil
}

// Close flushes the buffered rows and closes the database.
func (r *Recorder) Close() error {
	return errors.Join(r.Flush(), r.db.Close())
}

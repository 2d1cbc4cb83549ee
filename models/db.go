package models

import (
	"database/sql"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// db is the package-level DuckDB handle. The queue blob, the conflict audit
// trail, and the local task cache all live in this one file-backed database.
var db *sql.DB

// defaultDBPath is used when GOTASKS_DB_PATH is not set.
const defaultDBPath = "./data/gotasks.ddb"

// InitDB opens the database at the given path (empty picks the default)
// and runs migrations.
func InitDB(path string) error {
	if path == "" {
		path = defaultDBPath
	}

	var err error
	db, err = sql.Open("duckdb", path)
	if err != nil {
		return serr.Wrap(err, "failed to open database")
	}

	if err := migrateDB(db); err != nil {
		return serr.Wrap(err, "failed to migrate database")
	}

	logger.Info("Database initialized", "path", path)
	return nil
}

// InitTestDB opens a throwaway database for tests. Same migrations as
// InitDB, without the startup logging.
func InitTestDB(path string) error {
	var err error
	db, err = sql.Open("duckdb", path)
	if err != nil {
		return serr.Wrap(err, "failed to open test database")
	}
	return migrateDB(db)
}

// CloseDB closes the database connection.
func CloseDB() {
	if db != nil {
		db.Close()
		db = nil
	}
}

// migrateDB creates sequences, tables, and indexes. Every statement is
// IF NOT EXISTS so migration is safe to run on every startup.
func migrateDB(d *sql.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"queue_blobs table", DDLCreateQueueBlobsTable},
		{"conflict_audit sequence", DDLCreateConflictAuditSequence},
		{"conflict_audit table", DDLCreateConflictAuditTable},
		{"conflict_audit entity index", DDLCreateConflictAuditIndexEntity},
		{"remote_state table", DDLCreateRemoteStateTable},
		{"tasks table", DDLCreateTasksTable},
		{"tasks updated index", DDLCreateTasksIndexUpdated},
	}

	for _, stmt := range stmts {
		if _, err := d.Exec(stmt.sql); err != nil {
			return serr.Wrap(err, "failed to create "+stmt.name)
		}
	}

	return nil
}

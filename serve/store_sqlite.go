package serve

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS worker_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		type        TEXT NOT NULL,
		worker_id   TEXT NOT NULL DEFAULT '',
		agent_name  TEXT NOT NULL DEFAULT '',
		profile     TEXT NOT NULL DEFAULT '',
		count_id    INTEGER NOT NULL DEFAULT 0,
		pid         INTEGER NOT NULL DEFAULT 0,
		exit_code   INTEGER,
		signal      TEXT NOT NULL DEFAULT '',
		message     TEXT NOT NULL DEFAULT '',
		timestamp   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_worker_events_agent ON worker_events(agent_name);
	CREATE INDEX IF NOT EXISTS idx_worker_events_timestamp ON worker_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertEvent records a worker lifecycle event.
func (s *SQLiteStore) InsertEvent(e StoreEvent) error {
	var exitCode sql.NullInt64
	if e.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*e.ExitCode), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO worker_events (type, worker_id, agent_name, profile, count_id, pid, exit_code, signal, message, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Type, e.WorkerID, e.AgentName, e.Profile, e.CountID, e.Pid, exitCode, e.Signal, e.Message, e.Timestamp,
	)
	return err
}

// ListEvents returns recent events, newest first.
func (s *SQLiteStore) ListEvents(agent string, limit int) ([]StoreEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, type, worker_id, agent_name, profile, count_id, pid, exit_code, signal, message, timestamp
		 FROM worker_events
		 WHERE ? = '' OR agent_name = ?
		 ORDER BY id DESC LIMIT ?`, agent, agent, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StoreEvent
	for rows.Next() {
		var e StoreEvent
		var exitCode sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Type, &e.WorkerID, &e.AgentName, &e.Profile, &e.CountID,
			&e.Pid, &exitCode, &e.Signal, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			e.ExitCode = &code
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountRestarts returns how many restarts were recorded per agent.
func (s *SQLiteStore) CountRestarts() (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT agent_name, COUNT(*) FROM worker_events WHERE type = 'restarting' GROUP BY agent_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

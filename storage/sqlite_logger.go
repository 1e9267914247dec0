package storage

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ahtx/neurofab-z1-cluster/cluster"
	"github.com/ahtx/neurofab-z1-cluster/engine"
)

// SQLiteLogger records cluster snapshots and spike events to a SQLite
// database.
type SQLiteLogger struct {
	db *sql.DB
}

// NewSQLiteLogger opens a fresh SQLite database at dataSourceName,
// recreating it if it already exists, per run.
func NewSQLiteLogger(dataSourceName string) (*SQLiteLogger, error) {
	_ = os.Remove(dataSourceName)

	dbConn, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database at %s: %w", dataSourceName, err)
	}
	if err := dbConn.Ping(); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("ping sqlite database at %s: %w", dataSourceName, err)
	}

	logger := &SQLiteLogger{db: dbConn}
	if err := logger.createTables(); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return logger, nil
}

func (sl *SQLiteLogger) createTables() error {
	const clusterSnapshotsSQL = `
    CREATE TABLE IF NOT EXISTS ClusterSnapshots (
        SnapshotID INTEGER PRIMARY KEY AUTOINCREMENT,
        CycleCount INTEGER NOT NULL,
        Timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        TotalEngines INTEGER,
        TotalNeurons INTEGER,
        TotalSpikesSent INTEGER,
        TotalSpikesReceived INTEGER,
        STDPEnabled INTEGER
    );`
	if _, err := sl.db.Exec(clusterSnapshotsSQL); err != nil {
		return fmt.Errorf("create ClusterSnapshots: %w", err)
	}

	const spikeEventsSQL = `
    CREATE TABLE IF NOT EXISTS SpikeEvents (
        EventID INTEGER PRIMARY KEY AUTOINCREMENT,
        SnapshotID INTEGER NOT NULL,
        SourceGlobalID INTEGER NOT NULL,
        SourceNode INTEGER NOT NULL,
        TimestampUs INTEGER NOT NULL,
        FOREIGN KEY (SnapshotID) REFERENCES ClusterSnapshots (SnapshotID) ON DELETE CASCADE
    );`
	if _, err := sl.db.Exec(spikeEventsSQL); err != nil {
		return fmt.Errorf("create SpikeEvents: %w", err)
	}
	return nil
}

// DBForTest exposes the underlying *sql.DB for test introspection only.
func (sl *SQLiteLogger) DBForTest() *sql.DB {
	return sl.db
}

// LogClusterSnapshot records one cluster status snapshot and the given
// spikes, in a single transaction.
func (sl *SQLiteLogger) LogClusterSnapshot(cycleCount int, status cluster.Status, spikes []engine.Spike) error {
	if sl.db == nil {
		return fmt.Errorf("sqlite logger not initialized")
	}

	tx, err := sl.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stdpEnabled := 0
	if status.STDPEnabled {
		stdpEnabled = 1
	}

	res, err := tx.Exec(`INSERT INTO ClusterSnapshots
            (CycleCount, Timestamp, TotalEngines, TotalNeurons, TotalSpikesSent, TotalSpikesReceived, STDPEnabled)
            VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cycleCount, time.Now(), status.TotalEngines, status.TotalNeurons,
		status.TotalSpikesSent, status.TotalSpikesReceived, stdpEnabled)
	if err != nil {
		return fmt.Errorf("insert ClusterSnapshots: %w", err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get snapshot id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO SpikeEvents
            (SnapshotID, SourceGlobalID, SourceNode, TimestampUs) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare SpikeEvents insert: %w", err)
	}
	defer stmt.Close()

	for _, sp := range spikes {
		if _, err := stmt.Exec(snapshotID, sp.SourceGlobalID, sp.SourceNode, sp.TimestampUs); err != nil {
			return fmt.Errorf("insert spike event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (sl *SQLiteLogger) Close() error {
	if sl.db != nil {
		return sl.db.Close()
	}
	return nil
}

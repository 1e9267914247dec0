package storage

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// ExportLogData connects to the SQLite database at dbPath, reads data from
// tableName, and exports it as CSV to outputPath. If outputPath is empty,
// data is written to os.Stdout. Valid tableNames are "ClusterSnapshots" and
// "SpikeEvents", matching config.CLIConfig.LogUtilTable.
func ExportLogData(dbPath, tableName, format, outputPath string) error {
	if format != "csv" {
		return fmt.Errorf("unsupported format '%s', only 'csv' is currently supported", format)
	}

	db, err := sql.Open("sqlite3", dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open sqlite database at %s: %w", dbPath, err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping sqlite database at %s: %w", dbPath, err)
	}

	var out io.Writer
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output file %s: %w", outputPath, err)
		}
		defer file.Close()
		out = file
	} else {
		out = os.Stdout
	}
	writer := csv.NewWriter(out)
	defer writer.Flush()

	switch tableName {
	case "ClusterSnapshots":
		return exportClusterSnapshots(db, writer)
	case "SpikeEvents":
		return exportSpikeEvents(db, writer)
	default:
		return fmt.Errorf("unsupported table '%s'. Supported tables are 'ClusterSnapshots', 'SpikeEvents'", tableName)
	}
}

func exportClusterSnapshots(db *sql.DB, writer *csv.Writer) error {
	headers := []string{
		"SnapshotID", "CycleCount", "Timestamp", "TotalEngines", "TotalNeurons",
		"TotalSpikesSent", "TotalSpikesReceived", "STDPEnabled",
	}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("write CSV headers for ClusterSnapshots: %w", err)
	}

	rows, err := db.Query(`SELECT SnapshotID, CycleCount, Timestamp, TotalEngines, TotalNeurons,
                                  TotalSpikesSent, TotalSpikesReceived, STDPEnabled
                           FROM ClusterSnapshots ORDER BY SnapshotID`)
	if err != nil {
		return fmt.Errorf("query ClusterSnapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r [8]sql.NullString
		if err := rows.Scan(&r[0], &r[1], &r[2], &r[3], &r[4], &r[5], &r[6], &r[7]); err != nil {
			return fmt.Errorf("scan row from ClusterSnapshots: %w", err)
		}
		record := make([]string, len(r))
		for i, val := range r {
			record[i] = nullStringToString(val)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write CSV record for ClusterSnapshots: %w", err)
		}
	}
	return rows.Err()
}

func exportSpikeEvents(db *sql.DB, writer *csv.Writer) error {
	headers := []string{"EventID", "SnapshotID", "SourceGlobalID", "SourceNode", "TimestampUs"}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("write CSV headers for SpikeEvents: %w", err)
	}

	rows, err := db.Query(`SELECT EventID, SnapshotID, SourceGlobalID, SourceNode, TimestampUs
                           FROM SpikeEvents ORDER BY EventID`)
	if err != nil {
		return fmt.Errorf("query SpikeEvents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventID, snapshotID, sourceGlobalID, sourceNode, timestampUs sql.NullInt64
		if err := rows.Scan(&eventID, &snapshotID, &sourceGlobalID, &sourceNode, &timestampUs); err != nil {
			return fmt.Errorf("scan row from SpikeEvents: %w", err)
		}
		record := []string{
			intToString(eventID), intToString(snapshotID), intToString(sourceGlobalID),
			intToString(sourceNode), intToString(timestampUs),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write CSV record for SpikeEvents: %w", err)
		}
	}
	return rows.Err()
}

func nullStringToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func intToString(ni sql.NullInt64) string {
	if ni.Valid {
		return strconv.FormatInt(ni.Int64, 10)
	}
	return ""
}

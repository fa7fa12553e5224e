// Package util provides utility functions for the engine.
//
//revive:disable-next-line:var-naming
package util

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/ortelius/pdvd-remediation/database"
)

// SanitizeKey ensures the database key is valid for ArangoDB
// ArangoDB keys cannot contain spaces, slashes, or brackets
func SanitizeKey(key string) string {
	key = strings.TrimSpace(key)

	replacer := strings.NewReplacer(
		" ", "-",
		"/", "-",
		"[", "",
		"]", "",
		"(", "",
		")", "",
	)

	return replacer.Replace(key)
}

// JobMetadata stores the high-water mark of a background job
type JobMetadata struct {
	Key     string `json:"_key"`     // e.g., "metrics-hourly"
	LastRun string `json:"last_run"` // RFC3339 Timestamp
	Type    string `json:"type"`     // "job_metadata"
}

// GetLastRun retrieves the timestamp of the last successful run of a job.
// A job that never ran returns the zero time.
func GetLastRun(ctx context.Context, db database.DBConnection, job string) (time.Time, error) {
	key := SanitizeKey(job)
	if key == "" {
		return time.Time{}, nil
	}

	query := `FOR m IN metadata FILTER m._key == @key LIMIT 1 RETURN m`
	bindVars := map[string]interface{}{"key": key}

	cursor, err := db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last run for %s: %w", job, err)
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return time.Time{}, nil
	}

	var meta JobMetadata
	if _, err := cursor.ReadDocument(ctx, &meta); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode last run for %s: %w", job, err)
	}

	return time.Parse(time.RFC3339, meta.LastRun)
}

// SaveLastRun updates the timestamp after a successful run
func SaveLastRun(ctx context.Context, db database.DBConnection, job string, lastRun time.Time) error {
	key := SanitizeKey(job)
	if key == "" {
		return fmt.Errorf("cannot save last run for empty job key (original: %s)", job)
	}

	query := `
		UPSERT { _key: @key }
		INSERT { _key: @key, last_run: @time, type: "job_metadata" }
		UPDATE { last_run: @time }
		IN metadata
	`

	bindVars := map[string]interface{}{
		"key":  key,
		"time": lastRun.UTC().Format(time.RFC3339),
	}

	cursor, err := db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return err
	}
	return cursor.Close()
}

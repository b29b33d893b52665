package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

//goland:noinspection SqlWithoutWhere
var clearDatabaseStatements = []string{
	`DELETE FROM events;`,
	`DELETE FROM data_samples;`,
	`DELETE FROM connection_log;`,
}

func ClearDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear database tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range clearDatabaseStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear database tables: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear database tx: %w", err)
	}

	return nil
}

// PruneBefore deletes journal rows older than cutoff and returns how many
// rows were removed.
func PruneBefore(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database is not initialized")
	}

	ms := toUnixMillis(cutoff)
	var total int64
	for _, stmt := range []string{
		`DELETE FROM events WHERE received_at < ?;`,
		`DELETE FROM data_samples WHERE received_at < ?;`,
		`DELETE FROM connection_log WHERE at < ?;`,
	} {
		res, err := db.ExecContext(ctx, stmt, ms)
		if err != nil {
			return total, fmt.Errorf("prune journal: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("prune journal rows: %w", err)
		}
		total += n
	}

	return total, nil
}

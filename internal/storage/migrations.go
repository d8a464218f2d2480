package storage

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Migrate runs all database migrations
func Migrate(db *sqlx.DB) error {
	migrations := []string{
		createChannelsTable,
		createMessagesTable,
		createIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	if err := migrateChannelColumns(db); err != nil {
		return fmt.Errorf("channel columns migration failed: %w", err)
	}

	return nil
}

const createChannelsTable = `
CREATE TABLE IF NOT EXISTS channels (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    network TEXT NOT NULL,
    name TEXT NOT NULL COLLATE NOCASE,
    topic TEXT NOT NULL DEFAULT '',
    auto_join BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    UNIQUE(network, name)
);
`

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    network TEXT NOT NULL,
    target TEXT NOT NULL COLLATE NOCASE,
    user TEXT NOT NULL,
    message TEXT NOT NULL,
    message_type TEXT NOT NULL DEFAULT 'privmsg',
    outgoing BOOLEAN NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_messages_network_target_time ON messages(network, target, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
`

// migrateChannelColumns adds columns introduced after the channels table was
// first created.
func migrateChannelColumns(db *sqlx.DB) error {
	columnsToAdd := map[string]string{
		"channel_key": "ALTER TABLE channels ADD COLUMN channel_key TEXT NOT NULL DEFAULT ''",
	}

	for columnName, alterSQL := range columnsToAdd {
		var columnExists int
		err := db.Get(&columnExists,
			"SELECT COUNT(*) FROM pragma_table_info('channels') WHERE name=?", columnName)
		if err != nil {
			return fmt.Errorf("failed to check for %s column: %w", columnName, err)
		}

		if columnExists == 0 {
			if _, err := db.Exec(alterSQL); err != nil {
				if !strings.Contains(err.Error(), "duplicate column") {
					return fmt.Errorf("failed to add %s column: %w", columnName, err)
				}
			}
		}
	}

	return nil
}

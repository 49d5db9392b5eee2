package contacts

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/connectd/connectd/internal/contacts/migrations"
	"github.com/connectd/connectd/internal/sms"
)

// DB is the SQLite contact cache. It carries the last good vCard
// import so names resolve while the synced address book is missing.
type DB struct {
	*sql.DB
}

// OpenDB opens the cache with WAL mode and busy timeout.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open contact db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping contact db: %w", err)
	}
	return &DB{db}, nil
}

// Migrate runs all pending migrations.
func (db *DB) Migrate() error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

// ReplaceContacts swaps a device's cached contacts for a fresh import
// in one transaction.
func (db *DB) ReplaceContacts(deviceID string, contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		for _, addr := range c.Addresses {
			if _, err := tx.Exec(`
				INSERT INTO contacts (device_id, address, suffix, name, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(device_id, address) DO UPDATE SET
					suffix = excluded.suffix,
					name = excluded.name,
					updated_at = excluded.updated_at`,
				deviceID, addr, sms.PhoneSuffix(addr), c.Name, now); err != nil {
				return fmt.Errorf("upsert contact %q: %w", c.Name, err)
			}
		}
	}
	return tx.Commit()
}

// ContactsForDevice returns a device's cached contacts grouped by
// name.
func (db *DB) ContactsForDevice(deviceID string) ([]Contact, error) {
	rows, err := db.Query(`
		SELECT name, address FROM contacts
		WHERE device_id = ?
		ORDER BY name, address`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	byName := make(map[string]int)
	for rows.Next() {
		var name, addr string
		if err := rows.Scan(&name, &addr); err != nil {
			return nil, err
		}
		if i, ok := byName[name]; ok {
			out[i].Addresses = append(out[i].Addresses, addr)
			continue
		}
		byName[name] = len(out)
		out = append(out, Contact{Name: name, Addresses: []string{addr}})
	}
	return out, rows.Err()
}

package store

import (
	"fmt"
	"time"

	"github.com/einfra-labs/chatbox/internal/model"
)

// BulkUpsertContacts replaces-or-inserts the directory snapshot in a
// single transaction. A blank name never overwrites a known one.
func (db *DB) BulkUpsertContacts(contacts []model.Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, name, email, designation, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
				email = excluded.email,
				designation = excluded.designation,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			c.ID, c.Name, c.Email, c.Designation, c.Status, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListContacts returns every cached directory entry ordered by name.
func (db *DB) ListContacts() ([]model.Contact, error) {
	rows, err := db.Query(`SELECT id, name, email, designation, status FROM contacts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Designation, &c.Status); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

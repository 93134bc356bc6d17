package store

import "github.com/einfra-labs/chatbox/internal/model"

// Cache adapts the database to the chat layer's write-through hooks.
// Self resolves the viewer's id at write time, after identification.
type Cache struct {
	DB   *DB
	Self func() string
}

// SaveMessage caches one confirmed message under its conversation key.
// Unroutable messages are skipped, not errors.
func (c *Cache) SaveMessage(msg *model.Message) error {
	key, ok := msg.Key(c.Self())
	if !ok {
		return nil
	}
	return c.DB.UpsertMessage(key, msg)
}

// SaveContacts caches the directory snapshot.
func (c *Cache) SaveContacts(contacts []model.Contact) error {
	return c.DB.BulkUpsertContacts(contacts)
}

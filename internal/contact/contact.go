// Package contact manages the user's emergency contacts.
//
// Contacts are kept in insertion order. That order is the order in which an
// SOS alert fans out texts, so every [Store] implementation must preserve it.
package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get, Update and Remove when no contact with the
// requested ID exists.
var ErrNotFound = errors.New("contact not found")

// ErrDuplicateID is returned by Add when a contact with the same ID exists.
var ErrDuplicateID = errors.New("contact with that ID already exists")

// ErrInvalid wraps every [Contact.Validate] failure.
var ErrInvalid = errors.New("invalid contact")

// Contact is one emergency contact.
type Contact struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Phone        string    `json:"phone,omitempty" yaml:"phone"`
	Relationship string    `json:"relationship,omitempty" yaml:"relationship"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
}

// Dispatchable reports whether an alert text can be sent to c.
func (c Contact) Dispatchable() bool {
	return strings.TrimSpace(c.Phone) != ""
}

// Validate checks the fields a caller must supply.
func (c Contact) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalid)
	}
	return nil
}

// Store manages emergency contacts. All implementations must be safe for
// concurrent use.
type Store interface {
	// Add creates a contact, generating an ID when c.ID is empty.
	// Returns [ErrDuplicateID] if the ID is taken.
	Add(ctx context.Context, c Contact) (Contact, error)

	// Get returns the contact with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (Contact, error)

	// List returns all contacts in insertion order.
	List(ctx context.Context) ([]Contact, error)

	// Update replaces name, phone and relationship of an existing contact.
	// Returns [ErrNotFound] when it does not exist.
	Update(ctx context.Context, c Contact) error

	// Remove deletes a contact. Returns [ErrNotFound] when it does not exist.
	Remove(ctx context.Context, id string) error
}

func newID() string { return uuid.NewString() }

// Package history keeps a journal of finished transactions in BoltDB.
package history

import (
	"time"

	"discover/pkg/transaction"
)

// Entry is one finished transaction.
type Entry struct {
	ID          string    `json:"id" yaml:"id"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Backend     string    `json:"backend" yaml:"backend"`
	Role        string    `json:"role" yaml:"role"`
	Resource    string    `json:"resource" yaml:"resource"`
	Locator     string    `json:"locator" yaml:"locator"`
	DisplayName string    `json:"display_name" yaml:"display_name"`
	Version     string    `json:"version,omitempty" yaml:"version,omitempty"`
	Status      string    `json:"status" yaml:"status"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	Addons      []string  `json:"addons,omitempty" yaml:"addons,omitempty"`
}

// NewEntry records the final state of tx.
func NewEntry(tx *transaction.Transaction) *Entry {
	res := tx.Resource()
	e := &Entry{
		ID:        tx.ID(),
		Timestamp: tx.Finished(),
		Backend:   tx.Backend(),
		Role:      tx.Role().String(),
		Status:    tx.Status().String(),
		Addons:    tx.Addons().Install,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if res != nil {
		e.Resource = res.UniqueID()
		e.Locator = res.Identity().URL()
		e.DisplayName = res.DisplayName()
		e.Version = res.Version()
	}
	if err := tx.Err(); err != nil && tx.Status() == transaction.StatusFailed {
		e.Error = err.Error()
	}
	return e
}

// Succeeded reports whether the transaction reached Done.
func (e *Entry) Succeeded() bool {
	return e.Status == transaction.StatusDone.String()
}

// ReverseRole returns the role that undoes this entry, or "" when it cannot be undone.
// Updates are not reversible since the previous version is gone.
func (e *Entry) ReverseRole() string {
	switch e.Role {
	case transaction.RoleInstall.String():
		return transaction.RoleRemove.String()
	case transaction.RoleRemove.String():
		return transaction.RoleInstall.String()
	}
	return ""
}

// CanUndo returns true if this transaction can be undone.
func (e *Entry) CanUndo() bool {
	return e.Succeeded() && e.ReverseRole() != "" && e.Locator != ""
}

// FormatTime returns a human-readable timestamp.
func (e *Entry) FormatTime() string {
	return e.Timestamp.Local().Format("2006-01-02 15:04:05")
}

// Summary returns a brief summary of the transaction.
func (e *Entry) Summary() string {
	name := e.DisplayName
	if name == "" {
		name = e.Resource
	}
	return e.FormatTime() + " " + e.Role + " " + name + " [" + e.Backend + "] (" + e.Status + ")"
}

// package models defines the data model for the reelsync reconciliation engine
package models

import (
	"time"
)

// Model is a row stored in the run ledger.
type Model interface {
	ID() string
	CreatedAt() time.Time
	UpdatedAt() time.Time
	Validate() error
}

// Repository is the CRUD surface of a ledger table. The criteria List accepts
// are defined by each implementation.
type Repository[T Model] interface {
	Create(model T) error
	Get(id string) (T, error)
	Update(model T) error
	Delete(id string) error
	List(criteria map[string]any) ([]T, error)
}

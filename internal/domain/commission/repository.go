package commission

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence contract for commission settings.
type Repository interface {
	// FindByID returns NotFound when the setting does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*Setting, error)

	// FindByCategory returns the setting for a category, or the global setting when
	// categoryID is nil. It returns nil, nil when there is none.
	FindByCategory(ctx context.Context, categoryID *uuid.UUID) (*Setting, error)

	// List returns every setting, global first.
	List(ctx context.Context) ([]*Setting, error)

	// Save persists a new setting. A second setting for the same scope is a Conflict.
	Save(ctx context.Context, s *Setting) error

	// Update persists a changed percent.
	Update(ctx context.Context, s *Setting) error

	// Delete removes a setting, returning NotFound when it does not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}

package directory

import (
	"context"

	"github.com/google/uuid"

	"github.com/kaajbazar/service-booking/internal/platform/auth"
)

// User is what the booking service knows about a marketplace user.
type User struct {
	ID     uuid.UUID
	Name   string
	Active bool
	Roles  []auth.Role
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role auth.Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Category is a service category such as plumbing or cleaning.
type Category struct {
	ID   uuid.UUID
	Name string
}

// Directory looks up users and categories owned by other services.
// Both lookups return a NotFound domain error for unknown IDs.
type Directory interface {
	FindUser(ctx context.Context, id uuid.UUID) (*User, error)
	FindCategory(ctx context.Context, id uuid.UUID) (*Category, error)
}

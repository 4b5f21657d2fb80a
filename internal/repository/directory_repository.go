package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kaajbazar/service-booking/internal/domain/directory"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// UserModel is the booking service's read model of marketplace users.
// Roles are stored comma separated.
type UserModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null;size:200"`
	Roles     string    `gorm:"not null;size:200"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (UserModel) TableName() string {
	return "users"
}

// CategoryModel is the booking service's read model of service categories.
type CategoryModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null;size:200"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (CategoryModel) TableName() string {
	return "categories"
}

// GormDirectory resolves users and categories from their read-model tables.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory creates a new GormDirectory.
func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// FindUser returns NotFound when the user does not exist.
func (d *GormDirectory) FindUser(ctx context.Context, id uuid.UUID) (*directory.User, error) {
	var model UserModel
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("User", id.String())
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &directory.User{
		ID:     model.ID,
		Name:   model.Name,
		Active: model.Active,
		Roles:  parseRoles(model.Roles),
	}, nil
}

// FindCategory returns NotFound when the category does not exist.
func (d *GormDirectory) FindCategory(ctx context.Context, id uuid.UUID) (*directory.Category, error) {
	var model CategoryModel
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Category", id.String())
		}
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	return &directory.Category{ID: model.ID, Name: model.Name}, nil
}

// UpsertUser writes a user row, used when user events are replicated into this service.
func (d *GormDirectory) UpsertUser(ctx context.Context, u directory.User, now time.Time) error {
	roles := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		roles[i] = string(r)
	}
	model := UserModel{
		ID:        u.ID,
		Name:      u.Name,
		Roles:     strings.Join(roles, ","),
		Active:    u.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := d.db.WithContext(ctx).
		Where("id = ?", u.ID).
		Assign(map[string]interface{}{
			"name":       model.Name,
			"roles":      model.Roles,
			"active":     model.Active,
			"updated_at": now,
		}).
		FirstOrCreate(&model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpsertCategory writes a category row.
func (d *GormDirectory) UpsertCategory(ctx context.Context, c directory.Category, now time.Time) error {
	model := CategoryModel{ID: c.ID, Name: c.Name, CreatedAt: now, UpdatedAt: now}
	err := d.db.WithContext(ctx).
		Where("id = ?", c.ID).
		Assign(map[string]interface{}{"name": c.Name, "updated_at": now}).
		FirstOrCreate(&model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

func parseRoles(s string) []auth.Role {
	var roles []auth.Role
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, auth.Role(strings.ToLower(r)))
		}
	}
	return roles
}

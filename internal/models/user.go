package models

import (
	"time"
)

type UserRole string

const (
	RoleBidder UserRole = "bidder"
	RoleSeller UserRole = "seller"
	RoleAdmin  UserRole = "admin"
)

// User represents an account in the system. Users are created and mutated by
// the external auth collaborator; the engine only ever reads them.
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Email       string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	DisplayName string    `gorm:"size:100" json:"display_name"`
	Role        UserRole  `gorm:"size:20;not null;default:bidder" json:"role"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// CanSell reports whether the user may create auctions.
func (u *User) CanSell() bool {
	return u.Role == RoleSeller || u.Role == RoleAdmin
}

// Category groups auctions for browsing. Category management lives outside
// the engine; rows are seeded by migration and referenced read-only.
type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Slug      string    `gorm:"size:100;uniqueIndex;not null" json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Category model
func (Category) TableName() string {
	return "categories"
}

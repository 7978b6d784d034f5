package models

import (
	"time"
)

// Role values
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account status values; only approved accounts can sign in
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// User represents an account in the system
type User struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Authentication fields
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Account status
	Role   string `gorm:"not null;default:'user'" json:"role"`
	Status string `gorm:"not null;default:'pending';index" json:"status"`

	// Sharing team, nil means personal scope only
	TeamID *uint `gorm:"index" json:"team_id"`

	CreatedAt time.Time `json:"created_at"`

	// Relations
	Team *Team `gorm:"constraint:OnDelete:SET NULL" json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsApproved() bool {
	return u.Status == StatusApproved
}

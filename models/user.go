package models

import (
	"time"
)

// User model
type User struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string   `gorm:"size:150;not null;unique"`
	HashedPassword []byte   `gorm:"not null" json:"-"`
	FirstName      string   `gorm:"size:150"`
	LastName       string   `gorm:"size:150;index"`
	IsActive       bool     `gorm:"default:true;not null"`
	Profile        *Profile `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// FullName joins first and last name, falling back to the username.
func (u User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}

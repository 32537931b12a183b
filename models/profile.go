package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPhoto is the shared placeholder every new profile starts with.
// It is a storage reference in canonical form and must never be rewritten or deleted.
const DefaultPhoto = "defaultuser.png"

// StaffStatus is the lab role shown next to a person.
type StaffStatus string

const (
	StaffUser      StaffStatus = "User"
	StaffRetired   StaffStatus = "Retired"
	StaffModerator StaffStatus = "Moderator"
	StaffAdmin     StaffStatus = "Admin"
)

// ParseStaffStatus accepts the stored values case-insensitively.
func ParseStaffStatus(v string) (StaffStatus, error) {
	for _, s := range []StaffStatus{StaffUser, StaffRetired, StaffModerator, StaffAdmin} {
		if strings.EqualFold(string(s), v) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown staff status %q", v)
}

// Label is the upper-case display form.
func (s StaffStatus) Label() string {
	switch s {
	case StaffUser:
		return "USER"
	case StaffRetired:
		return "RETIRED"
	case StaffModerator:
		return "MODERATOR"
	case StaffAdmin:
		return "ADMIN"
	}
	return ""
}

// Title is the honorific printed before a name.
type Title string

const (
	TitleNone   Title = "--"
	TitleDoctor Title = "Dr."
)

func ParseTitle(v string) (Title, error) {
	switch v {
	case "", string(TitleNone):
		return TitleNone, nil
	case string(TitleDoctor), "DR", "Dr", "dr":
		return TitleDoctor, nil
	}
	return "", fmt.Errorf("unknown title %q", v)
}

// Prefix returns the text printed before a name; empty for TitleNone.
func (t Title) Prefix() string {
	switch t {
	case TitleDoctor:
		return string(TitleDoctor)
	case TitleNone:
		return ""
	}
	return ""
}

// Profile represents a user's profile (one-to-one with User)
type Profile struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UserID      uint        `gorm:"uniqueIndex;not null"` // one-to-one relation
	Photo       string      `gorm:"size:255;not null;default:'defaultuser.png'"`
	Bio         string      `gorm:"size:1000"`
	StaffStatus StaffStatus `gorm:"size:15;not null;default:'User'"`
	Title       Title       `gorm:"size:5;not null;default:'--'"`
	// Last crop request, in pixels of the stored photo.
	CropX      float64 `gorm:"not null;default:0"`
	CropY      float64 `gorm:"not null;default:0"`
	CropWidth  float64 `gorm:"not null;default:0"`
	CropHeight float64 `gorm:"not null;default:0"`
}

// NewProfile returns the profile created alongside a new user.
func NewProfile(userID uint) Profile {
	return Profile{
		UserID:      userID,
		Photo:       DefaultPhoto,
		StaffStatus: StaffUser,
		Title:       TitleNone,
	}
}

func (p *Profile) IsAdmin() bool     { return p.StaffStatus == StaffAdmin }
func (p *Profile) IsModerator() bool { return p.StaffStatus == StaffModerator }
func (p *Profile) IsRetired() bool   { return p.StaffStatus == StaffRetired }
func (p *Profile) IsDoctor() bool    { return p.Title == TitleDoctor }

// CanManagePapers reports whether the profile may create, edit or delete papers.
func (p *Profile) CanManagePapers() bool {
	switch p.StaffStatus {
	case StaffAdmin, StaffModerator:
		return true
	case StaffUser, StaffRetired:
		return false
	}
	return false
}

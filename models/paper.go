package models

import "time"

// Paper is a catalog entry for a published research paper.
type Paper struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Author    string `gorm:"size:250;not null;default:''"`
	Title     string `gorm:"size:250;not null;default:''"`
	Year      int    `gorm:"not null;index"`
	Publisher string `gorm:"size:250;not null;default:''"`
	Link      string `gorm:"size:1000;not null;default:''"`
	// Document is the storage reference of the uploaded file (e.g. papers/xyz.pdf).
	Document     string `gorm:"size:512"`
	DocumentName string `gorm:"size:255"` // original filename, used for downloads
}

func (p Paper) String() string {
	return p.Title + " - " + p.Author
}

package models

import "time"

// Group is a named category of notes, analogous to a folder.
// Name is unique within its visibility scope (team, or creator when TeamID is nil).
type Group struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null;index" json:"name"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	TeamID    *uint     `gorm:"index" json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
}

// "groups" is a keyword in several SQL dialects
func (Group) TableName() string {
	return "note_groups"
}

// Note is a dated entry inside a group
type Note struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Content   string    `gorm:"type:text;not null;default:''" json:"content"`
	Date      string    `gorm:"not null;index" json:"date"` // YYYY-MM-DD
	GroupID   uint      `gorm:"not null;index" json:"group_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	TeamID    *uint     `gorm:"index" json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Images []Image `gorm:"foreignKey:NoteID" json:"images,omitempty"`
}

// Image is an uploaded file attached to a note. Filename is relative to the
// upload root ("<user dir>/<name>") and the file lives exactly as long as the row.
type Image struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Filename         string    `gorm:"not null" json:"filename"`
	OriginalFilename string    `gorm:"not null" json:"original_filename"`
	NoteID           *uint     `gorm:"index" json:"note_id"`
	Date             string    `gorm:"not null" json:"date"`
	GroupID          uint      `gorm:"not null;index" json:"group_id"`
	UserID           uint      `gorm:"not null;index" json:"user_id"`
	TeamID           *uint     `gorm:"index" json:"team_id"`
	CreatedAt        time.Time `json:"created_at"`
}

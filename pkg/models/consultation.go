package models

import "time"

// Consultation is one answered question. Only the feedback fields change after
// creation, and they change at most once.
type Consultation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        int64      `gorm:"index;not null" json:"user_id"`
	Category      Category   `gorm:"size:32;index" json:"category"`
	Question      string     `gorm:"type:text;not null" json:"question"`
	Answer        string     `gorm:"type:text" json:"answer"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	IsResolved    bool       `gorm:"not null;default:false" json:"is_resolved"`
	FeedbackScore *int       `json:"feedback_score,omitempty"`
	FeedbackText  string     `gorm:"type:text" json:"feedback_text,omitempty"`
}

func (Consultation) TableName() string {
	return "consultations"
}

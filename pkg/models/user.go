package models

import "time"

// UserProfile is the persisted per-user record: identity, quota counters and
// the running feedback average.
type UserProfile struct {
	ID                     uint       `gorm:"primaryKey" json:"-"`
	UserID                 int64      `gorm:"uniqueIndex;not null" json:"user_id"`
	FirstName              string     `gorm:"size:255" json:"first_name"`
	LastName               string     `gorm:"size:255" json:"last_name"`
	Username               string     `gorm:"size:255" json:"username"`
	PhoneNumber            string     `gorm:"size:32" json:"phone_number,omitempty"`
	LanguageCode           string     `gorm:"size:16" json:"language_code,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	LastActive             *time.Time `json:"last_active,omitempty"`
	ConsultationCount      int        `gorm:"not null;default:0" json:"consultation_count"`
	DailyConsultationCount int        `gorm:"not null;default:0" json:"daily_consultation_count"`
	LastConsultationDate   *time.Time `json:"last_consultation_date,omitempty"`
	IsBlocked              bool       `gorm:"not null;default:false" json:"is_blocked"`
	FeedbackScore          float64    `gorm:"not null;default:0" json:"feedback_score"`
	FeedbackCount          int        `gorm:"not null;default:0" json:"feedback_count"`
}

func (UserProfile) TableName() string {
	return "users"
}

// Identity carries the transport-provided user fields refreshed on /start.
type Identity struct {
	UserID       int64
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
}

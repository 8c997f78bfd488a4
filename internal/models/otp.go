package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OTP is one issued verification code. The plaintext code is never stored;
// CodeHash is a bcrypt digest. A phone number accumulates historical rows,
// only the newest unconsumed, unexpired one counts for verification.
type OTP struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	PhoneNumber string     `gorm:"not null;index"`
	CodeHash    string     `gorm:"not null"`
	ExpiresAt   time.Time  `gorm:"not null"`
	ConsumedAt  *time.Time `gorm:"default:null"`
	Attempts    int        `gorm:"not null;default:0"`
	ProviderID  string     `gorm:"default:null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (o *OTP) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Active reports whether the record is still verifiable at t.
func (o *OTP) Active(t time.Time) bool {
	return o.ConsumedAt == nil && t.Before(o.ExpiresAt)
}

package services

import (
	"context"
	"errors"
	"time"

	"github.com/nomisafe/backend/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrOTPNotFound is returned by FindActive when no unconsumed, unexpired
	// record exists for the phone number.
	ErrOTPNotFound = errors.New("no active otp record")

	// ErrOTPAlreadyConsumed is returned by MarkConsumed when another verify
	// call won the race for the same record.
	ErrOTPAlreadyConsumed = errors.New("otp record already consumed")
)

// OTPLedger persists issued codes and their lifecycle. MarkConsumed must be
// atomic: of any number of concurrent callers, exactly one succeeds.
type OTPLedger interface {
	Store(ctx context.Context, record *models.OTP) error
	FindActive(ctx context.Context, phoneNumber string, now time.Time) (*models.OTP, error)
	MarkConsumed(ctx context.Context, record *models.OTP, now time.Time) error
	IncrementAttempt(ctx context.Context, record *models.OTP) error
	SetProviderID(ctx context.Context, record *models.OTP, providerID string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type gormOTPLedger struct {
	db *gorm.DB
}

func NewOTPLedger(db *gorm.DB) OTPLedger {
	return &gormOTPLedger{db: db}
}

func (l *gormOTPLedger) Store(ctx context.Context, record *models.OTP) error {
	return l.db.WithContext(ctx).Create(record).Error
}

func (l *gormOTPLedger) FindActive(ctx context.Context, phoneNumber string, now time.Time) (*models.OTP, error) {
	var record models.OTP
	err := l.db.WithContext(ctx).
		Where("phone_number = ? AND consumed_at IS NULL AND expires_at > ?", phoneNumber, now).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOTPNotFound
		}
		return nil, err
	}
	return &record, nil
}

// MarkConsumed sets consumed_at with a conditional update so that concurrent
// verify calls on the same record cannot both succeed.
func (l *gormOTPLedger) MarkConsumed(ctx context.Context, record *models.OTP, now time.Time) error {
	res := l.db.WithContext(ctx).
		Model(&models.OTP{}).
		Where("id = ? AND consumed_at IS NULL", record.ID).
		Update("consumed_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOTPAlreadyConsumed
	}
	record.ConsumedAt = &now
	return nil
}

func (l *gormOTPLedger) IncrementAttempt(ctx context.Context, record *models.OTP) error {
	err := l.db.WithContext(ctx).
		Model(&models.OTP{}).
		Where("id = ?", record.ID).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1)).Error
	if err != nil {
		return err
	}
	record.Attempts++
	return nil
}

func (l *gormOTPLedger) SetProviderID(ctx context.Context, record *models.OTP, providerID string) error {
	err := l.db.WithContext(ctx).
		Model(&models.OTP{}).
		Where("id = ?", record.ID).
		UpdateColumn("provider_id", providerID).Error
	if err != nil {
		return err
	}
	record.ProviderID = providerID
	return nil
}

// DeleteExpired prunes records that can never be verified again.
func (l *gormOTPLedger) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&models.OTP{})
	return res.RowsAffected, res.Error
}

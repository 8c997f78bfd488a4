package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nomisafe/backend/internal/models"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

// UserStore resolves identities by phone number. Accounts are created lazily
// on the first successful verification.
type UserStore interface {
	GetOrCreateByPhone(ctx context.Context, phoneNumber string) (*models.User, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// RefreshTokenStore persists issued refresh tokens so they can be revoked.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type gormUserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) UserStore {
	return &gormUserStore{db: db}
}

func (s *gormUserStore) GetOrCreateByPhone(ctx context.Context, phoneNumber string) (*models.User, bool, error) {
	var user models.User
	res := s.db.WithContext(ctx).
		Where(models.User{PhoneNumber: phoneNumber}).
		FirstOrCreate(&user)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return &user, res.RowsAffected > 0, nil
}

func (s *gormUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

type gormRefreshTokenStore struct {
	db *gorm.DB
}

func NewRefreshTokenStore(db *gorm.DB) RefreshTokenStore {
	return &gormRefreshTokenStore{db: db}
}

func (s *gormRefreshTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *gormRefreshTokenStore) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var model models.RefreshToken
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&model).Error; err != nil {
		return nil, err
	}
	return &model, nil
}

func (s *gormRefreshTokenStore) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error
}

func (s *gormRefreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&models.RefreshToken{})
	return res.RowsAffected, res.Error
}

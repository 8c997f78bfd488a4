package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nomisafe/backend/internal/config"
	"github.com/nomisafe/backend/internal/models"
	"github.com/nomisafe/backend/pkg/crypto"
	jwtpkg "github.com/nomisafe/backend/pkg/jwt"
	"github.com/nomisafe/backend/pkg/validation"
	"github.com/redis/go-redis/v9"
)

var (
	// Client input failure
	ErrInvalidPhoneNumber = errors.New("invalid phone number")

	// Auth failures. Handlers must collapse these into one response shape so
	// the API does not reveal whether a code exists, expired, or was consumed.
	ErrNoActiveOTP       = errors.New("no active otp for phone number")
	ErrInvalidCode       = errors.New("otp code mismatch")
	ErrAttemptsExhausted = errors.New("otp attempt limit reached")

	// A code was issued for this phone number within the cooldown window.
	ErrResendCooldown = errors.New("otp recently requested")

	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// SMSSender is what the orchestrator needs from the provider gateway.
type SMSSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// AuthService implements the OTP login flow: issue a code over SMS, verify it
// exactly once, exchange success for a token pair.
type AuthService struct {
	ledger OTPLedger
	users  UserStore
	tokens RefreshTokenStore
	sms    SMSSender
	redis  *redis.Client
	cfg    *config.Config
}

func NewAuthService(ledger OTPLedger, users UserStore, tokens RefreshTokenStore, sms SMSSender, redisClient *redis.Client, cfg *config.Config) *AuthService {
	return &AuthService{
		ledger: ledger,
		users:  users,
		tokens: tokens,
		sms:    sms,
		redis:  redisClient,
		cfg:    cfg,
	}
}

// RequestOTP issues a fresh code for the phone number and sends it via the
// configured SMS provider. The record is stored before the send, so a code
// that reaches the handset is always verifiable even when the provider call
// errors afterwards. Returns the normalized phone number.
func (s *AuthService) RequestOTP(ctx context.Context, phoneNumber string) (string, error) {
	phone := validation.NormalizePhoneNumber(phoneNumber)
	if !validation.ValidatePhoneNumber(phone) {
		return "", ErrInvalidPhoneNumber
	}

	if err := s.checkResendCooldown(ctx, phone); err != nil {
		return "", err
	}

	code, err := crypto.GenerateCode(s.cfg.OTPLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	codeHash, err := crypto.HashCode(code, s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}

	now := time.Now().UTC()
	record := &models.OTP{
		PhoneNumber: phone,
		CodeHash:    codeHash,
		ExpiresAt:   now.Add(s.cfg.OTPTTL),
	}

	if err := s.ledger.Store(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store otp record: %w", err)
	}

	message := fmt.Sprintf("Your NomiSafe verification code is %s. It expires in %d minutes.",
		code, int(s.cfg.OTPTTL.Minutes()))

	providerID, err := s.sms.Send(ctx, phone, message)
	if err != nil {
		// Record stays valid; surface the delivery failure
		return "", err
	}

	if providerID != "" {
		if err := s.ledger.SetProviderID(ctx, record, providerID); err != nil {
			log.Printf("WARN: failed to record sms provider id: %v", err)
		}
	}

	return phone, nil
}

// VerifyOTP checks a submitted code against the newest active record for the
// phone number. Every call counts against the attempt ceiling, including the
// successful one. Consumption is exactly-once: of concurrent calls with the
// correct code, one wins and the rest fail.
func (s *AuthService) VerifyOTP(ctx context.Context, phoneNumber, code string) (*models.User, *jwtpkg.TokenPair, error) {
	phone := validation.NormalizePhoneNumber(phoneNumber)

	now := time.Now().UTC()
	record, err := s.ledger.FindActive(ctx, phone, now)
	if err != nil {
		if errors.Is(err, ErrOTPNotFound) {
			return nil, nil, ErrNoActiveOTP
		}
		return nil, nil, fmt.Errorf("failed to look up otp record: %w", err)
	}

	// Ceiling is checked before comparison; a still-unexpired record stops
	// being verifiable once the limit is hit.
	if record.Attempts >= s.cfg.OTPMaxAttempts {
		return nil, nil, ErrAttemptsExhausted
	}

	if err := s.ledger.IncrementAttempt(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	if !crypto.VerifyCode(code, record.CodeHash) {
		return nil, nil, ErrInvalidCode
	}

	if err := s.ledger.MarkConsumed(ctx, record, now); err != nil {
		if errors.Is(err, ErrOTPAlreadyConsumed) {
			// Lost the race against a concurrent verify
			return nil, nil, ErrNoActiveOTP
		}
		return nil, nil, fmt.Errorf("failed to consume otp record: %w", err)
	}

	user, created, err := s.users.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	if created {
		log.Printf("Created user %s for phone verification", user.ID)
	}

	pair, err := jwtpkg.GeneratePair(user.ID.String(), s.cfg.JWTSecret,
		s.cfg.JWTAccessTokenDuration, s.cfg.JWTRefreshTokenDuration)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mint tokens: %w", err)
	}

	refreshModel := &models.RefreshToken{
		UserID:    user.ID,
		Token:     pair.RefreshToken,
		ExpiresAt: now.Add(s.cfg.JWTRefreshTokenDuration),
	}
	if err := s.tokens.Create(ctx, refreshModel); err != nil {
		return nil, nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return user, pair, nil
}

// RefreshAccessToken generates a new access token from a valid refresh token.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	claims, err := jwtpkg.ValidateToken(refreshToken, s.cfg.JWTSecret)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}
	if claims.TokenType != jwtpkg.RefreshToken {
		return "", ErrInvalidRefreshToken
	}

	model, err := s.tokens.FindByToken(ctx, refreshToken)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}
	if time.Now().After(model.ExpiresAt) {
		return "", ErrInvalidRefreshToken
	}

	return jwtpkg.GenerateToken(claims.UserID, jwtpkg.AccessToken, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
}

// Logout revokes the user's refresh tokens and blacklists the presented
// access token for its remaining lifetime.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID, accessToken string) error {
	if err := s.tokens.DeleteByUser(ctx, userID); err != nil {
		return err
	}

	if s.redis != nil && accessToken != "" {
		blacklistKey := fmt.Sprintf("blacklist:token:%s", accessToken)
		if err := s.redis.Set(ctx, blacklistKey, "1", s.cfg.JWTAccessTokenDuration).Err(); err != nil {
			log.Printf("WARN: Could not blacklist access token in Redis: %v", err)
		}
	}
	return nil
}

// ValidateAccessToken validates an access token and returns claims
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (*jwtpkg.Claims, error) {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != jwtpkg.AccessToken {
		return nil, errors.New("invalid token type")
	}

	// If redis is down, we allow the request to proceed
	if s.redis != nil {
		blacklistKey := fmt.Sprintf("blacklist:token:%s", token)
		exists, err := s.redis.Exists(ctx, blacklistKey).Result()
		if err != nil {
			log.Printf("WARN: Could not connect to Redis to check token blacklist: %v", err)
		} else if exists > 0 {
			return nil, errors.New("token is blacklisted")
		}
	}

	return claims, nil
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

// CleanupExpired removes expired refresh tokens and dead OTP rows. Retention
// is otherwise an operational concern.
func (s *AuthService) CleanupExpired(ctx context.Context) error {
	now := time.Now().UTC()
	if _, err := s.tokens.DeleteExpired(ctx, now); err != nil {
		return err
	}
	_, err := s.ledger.DeleteExpired(ctx, now.Add(-24*time.Hour))
	return err
}

// checkResendCooldown throttles per-phone issuance through redis. A redis
// outage does not block login.
func (s *AuthService) checkResendCooldown(ctx context.Context, phone string) error {
	if s.redis == nil || s.cfg.OTPResendCooldown <= 0 {
		return nil
	}
	key := fmt.Sprintf("otp_cooldown:%s", phone)
	ok, err := s.redis.SetNX(ctx, key, "1", s.cfg.OTPResendCooldown).Result()
	if err != nil {
		log.Printf("WARN: Redis not available for otp cooldown: %v", err)
		return nil
	}
	if !ok {
		return ErrResendCooldown
	}
	return nil
}

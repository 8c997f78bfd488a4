package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nomisafe/backend/internal/config"
	"github.com/nomisafe/backend/internal/middleware"
	"github.com/nomisafe/backend/internal/models"
	"github.com/nomisafe/backend/internal/services"
	"github.com/nomisafe/backend/pkg/crypto"
	"golang.org/x/crypto/bcrypt"
)

type memLedger struct {
	mu      sync.Mutex
	records []*models.OTP
}

func (l *memLedger) Store(ctx context.Context, record *models.OTP) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	record.ID = uuid.New()
	stored := *record
	l.records = append(l.records, &stored)
	return nil
}

func (l *memLedger) FindActive(ctx context.Context, phoneNumber string, now time.Time) (*models.OTP, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		record := l.records[i]
		if record.PhoneNumber == phoneNumber && record.ConsumedAt == nil && now.Before(record.ExpiresAt) {
			copy := *record
			return &copy, nil
		}
	}
	return nil, services.ErrOTPNotFound
}

func (l *memLedger) MarkConsumed(ctx context.Context, record *models.OTP, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, stored := range l.records {
		if stored.ID == record.ID {
			if stored.ConsumedAt != nil {
				return services.ErrOTPAlreadyConsumed
			}
			consumed := now
			stored.ConsumedAt = &consumed
			return nil
		}
	}
	return services.ErrOTPAlreadyConsumed
}

func (l *memLedger) IncrementAttempt(ctx context.Context, record *models.OTP) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, stored := range l.records {
		if stored.ID == record.ID {
			stored.Attempts++
			record.Attempts = stored.Attempts
			return nil
		}
	}
	return errors.New("record not found")
}

func (l *memLedger) SetProviderID(ctx context.Context, record *models.OTP, providerID string) error {
	return nil
}

func (l *memLedger) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type memUserStore struct {
	mu      sync.Mutex
	byPhone map[string]*models.User
}

func (s *memUserStore) GetOrCreateByPhone(ctx context.Context, phoneNumber string) (*models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byPhone == nil {
		s.byPhone = make(map[string]*models.User)
	}
	if user, ok := s.byPhone[phoneNumber]; ok {
		return user, false, nil
	}
	user := &models.User{ID: uuid.New(), PhoneNumber: phoneNumber, IsActive: true}
	s.byPhone[phoneNumber] = user
	return user, true, nil
}

func (s *memUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.byPhone {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, services.ErrUserNotFound
}

type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func (s *memTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]*models.RefreshToken)
	}
	s.tokens[token.Token] = token
	return nil
}

func (s *memTokenStore) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	model, ok := s.tokens[token]
	if !ok {
		return nil, errors.New("refresh token not found")
	}
	return model, nil
}

func (s *memTokenStore) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, model := range s.tokens {
		if model.UserID == userID {
			delete(s.tokens, key)
		}
	}
	return nil
}

func (s *memTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type memSMSSender struct {
	err error
}

func (s *memSMSSender) Send(ctx context.Context, to, body string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "SM1", nil
}

func newTestRouter(sms *memSMSSender) (*gin.Engine, *memLedger) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWTSecret:               "test-secret",
		JWTAccessTokenDuration:  time.Hour,
		JWTRefreshTokenDuration: 168 * time.Hour,
		OTPLength:               6,
		OTPTTL:                  5 * time.Minute,
		OTPMaxAttempts:          5,
		BcryptCost:              bcrypt.MinCost,
	}

	ledger := &memLedger{}
	authService := services.NewAuthService(ledger, &memUserStore{}, &memTokenStore{}, sms, nil, cfg)
	handler := NewAuthHandler(authService)

	router := gin.New()
	auth := router.Group("/api/auth")
	auth.POST("/otp/request/", handler.RequestOTP)
	auth.POST("/otp/verify/", handler.VerifyOTP)
	auth.POST("/token/refresh/", handler.RefreshToken)
	auth.POST("/logout", middleware.Auth(authService), handler.Logout)
	auth.GET("/me", middleware.Auth(authService), handler.Me)
	return router, ledger
}

func seedCode(t *testing.T, ledger *memLedger, phone, code string) {
	t.Helper()
	hash, err := crypto.HashCode(code, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash code: %v", err)
	}
	if err := ledger.Store(context.Background(), &models.OTP{
		PhoneNumber: phone,
		CodeHash:    hash,
		ExpiresAt:   time.Now().UTC().Add(5 * time.Minute),
	}); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
}

func postJSON(router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestOTPEndpoint(t *testing.T) {
	router, ledger := newTestRouter(&memSMSSender{})

	w := postJSON(router, "/api/auth/otp/request/", gin.H{"phone_number": "+1 (555) 123-4567"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["phone_number"] != "+15551234567" {
		t.Fatalf("expected normalized phone echo, got %q", resp["phone_number"])
	}

	if _, err := ledger.FindActive(context.Background(), "+15551234567", time.Now().UTC()); err != nil {
		t.Fatalf("expected stored record, got %v", err)
	}
}

func TestRequestOTPEndpointInvalidPhone(t *testing.T) {
	router, _ := newTestRouter(&memSMSSender{})

	w := postJSON(router, "/api/auth/otp/request/", gin.H{"phone_number": "banana"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = postJSON(router, "/api/auth/otp/request/", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing phone_number, got %d", w.Code)
	}
}

func TestRequestOTPEndpointDeliveryError(t *testing.T) {
	sms := &memSMSSender{err: fmt.Errorf("%w: status 503", services.ErrDelivery)}
	router, ledger := newTestRouter(sms)

	w := postJSON(router, "/api/auth/otp/request/", gin.H{"phone_number": "+15551234567"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	// Store-before-send: record is verifiable despite the failed delivery
	if _, err := ledger.FindActive(context.Background(), "+15551234567", time.Now().UTC()); err != nil {
		t.Fatalf("expected stored record, got %v", err)
	}
}

func TestVerifyOTPEndpointSuccess(t *testing.T) {
	router, ledger := newTestRouter(&memSMSSender{})
	seedCode(t, ledger, "+15551234567", "483920")

	w := postJSON(router, "/api/auth/otp/verify/", gin.H{"phone_number": "+15551234567", "otp": "483920"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["user_id"] == "" || resp["access"] == "" || resp["refresh"] == "" {
		t.Fatalf("expected user_id/access/refresh in response, got %v", resp)
	}
	if resp["phone_number"] != "+15551234567" {
		t.Fatalf("expected phone_number in response, got %q", resp["phone_number"])
	}
}

func TestVerifyOTPEndpointFailuresAreIndistinguishable(t *testing.T) {
	router, ledger := newTestRouter(&memSMSSender{})
	seedCode(t, ledger, "+15551234567", "483920")

	// Wrong code
	wrongCode := postJSON(router, "/api/auth/otp/verify/", gin.H{"phone_number": "+15551234567", "otp": "000000"})
	// No record at all
	noRecord := postJSON(router, "/api/auth/otp/verify/", gin.H{"phone_number": "+15559999999", "otp": "000000"})

	if wrongCode.Code != http.StatusBadRequest || noRecord.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for both failures, got %d and %d", wrongCode.Code, noRecord.Code)
	}
	if wrongCode.Body.String() != noRecord.Body.String() {
		t.Fatalf("expected identical failure bodies, got %q vs %q", wrongCode.Body.String(), noRecord.Body.String())
	}

	// Exhaust the ceiling; the body stays the same
	for i := 0; i < 4; i++ {
		postJSON(router, "/api/auth/otp/verify/", gin.H{"phone_number": "+15551234567", "otp": "000000"})
	}
	exhausted := postJSON(router, "/api/auth/otp/verify/", gin.H{"phone_number": "+15551234567", "otp": "483920"})
	if exhausted.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 after exhaustion, got %d", exhausted.Code)
	}
	if exhausted.Body.String() != wrongCode.Body.String() {
		t.Fatalf("expected identical failure bodies, got %q vs %q", exhausted.Body.String(), wrongCode.Body.String())
	}
}

func TestRefreshAndAuthenticatedEndpoints(t *testing.T) {
	router, ledger := newTestRouter(&memSMSSender{})
	seedCode(t, ledger, "+15551234567", "483920")

	w := postJSON(router, "/api/auth/otp/verify/", gin.H{"phone_number": "+15551234567", "otp": "483920"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var login map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// Refresh
	w = postJSON(router, "/api/auth/token/refresh/", gin.H{"refresh": login["refresh"]})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on refresh, got %d: %s", w.Code, w.Body.String())
	}

	// Access tokens are rejected by the refresh endpoint
	w = postJSON(router, "/api/auth/token/refresh/", gin.H{"refresh": login["access"]})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 refreshing with access token, got %d", w.Code)
	}

	// Me
	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login["access"])
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on /me, got %d: %s", rec.Code, rec.Body.String())
	}

	// Me without a token
	req = httptest.NewRequest("GET", "/api/auth/me", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// Logout
	req = httptest.NewRequest("POST", "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+login["access"])
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on logout, got %d: %s", rec.Code, rec.Body.String())
	}

	// Refresh token is revoked after logout
	w = postJSON(router, "/api/auth/token/refresh/", gin.H{"refresh": login["refresh"]})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
}

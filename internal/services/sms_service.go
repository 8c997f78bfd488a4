package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nomisafe/backend/internal/config"
)

// ErrDelivery marks a provider-side send failure. The stored OTP record stays
// valid; the client may re-request.
var ErrDelivery = errors.New("sms delivery failed")

// smsProvider is the capability every SMS backend must offer. Send returns the
// provider's message ID when it has one. Message bodies contain the OTP code,
// so implementations must never copy them into errors or logs.
type smsProvider interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// SMSService delivers messages through the provider selected by configuration.
// There is no runtime fallback between providers.
type SMSService struct {
	provider smsProvider
}

func NewSMSService(cfg *config.Config) *SMSService {
	client := &http.Client{Timeout: 10 * time.Second}

	var provider smsProvider
	switch strings.ToLower(cfg.SMSProvider) {
	case "textbelt":
		provider = &textbeltProvider{cfg: cfg, client: client}
	default:
		provider = &twilioProvider{cfg: cfg, client: client, apiBase: twilioAPIBase}
	}

	return &SMSService{provider: provider}
}

func (s *SMSService) Send(ctx context.Context, to, body string) (string, error) {
	return s.provider.Send(ctx, to, body)
}

const twilioAPIBase = "https://api.twilio.com"

// Twilio REST API: POST {base}/2010-04-01/Accounts/{SID}/Messages.json
// Basic auth: account SID / auth token
// Form: To=<E164>&From=<number>&Body=<msg>
type twilioProvider struct {
	cfg     *config.Config
	client  *http.Client
	apiBase string
}

type twilioResponse struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode int    `json:"code,omitempty"`
}

func (p *twilioProvider) Send(ctx context.Context, to, body string) (string, error) {
	if p.cfg.TwilioAccountSID == "" || p.cfg.TwilioAuthToken == "" || p.cfg.SMSFrom == "" {
		return "", fmt.Errorf("%w: twilio credentials not configured", ErrDelivery)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.cfg.SMSFrom)
	form.Set("Body", body)

	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.apiBase, p.cfg.TwilioAccountSID)
	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.TwilioAccountSID, p.cfg.TwilioAuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	var twilioResp twilioResponse
	if err := json.NewDecoder(resp.Body).Decode(&twilioResp); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrDelivery, err)
	}

	if resp.StatusCode != http.StatusCreated {
		// Response bodies echo the message text, report codes only
		return "", fmt.Errorf("%w: twilio status %d error code %d", ErrDelivery, resp.StatusCode, twilioResp.ErrorCode)
	}

	return twilioResp.SID, nil
}

// Textbelt: POST https://textbelt.com/text
// JSON: {"phone": <E164>, "message": <msg>, "key": <api key>}
type textbeltProvider struct {
	cfg    *config.Config
	client *http.Client
}

type textbeltRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Key     string `json:"key"`
}

type textbeltResponse struct {
	Success bool  `json:"success"`
	TextID  int64 `json:"textId"`
}

func (p *textbeltProvider) Send(ctx context.Context, to, body string) (string, error) {
	if p.cfg.TextbeltAPIKey == "" {
		return "", fmt.Errorf("%w: textbelt api key not configured", ErrDelivery)
	}

	payload, err := json.Marshal(textbeltRequest{Phone: to, Message: body, Key: p.cfg.TextbeltAPIKey})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.TextbeltURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	var textbeltResp textbeltResponse
	if err := json.NewDecoder(resp.Body).Decode(&textbeltResp); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrDelivery, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !textbeltResp.Success {
		return "", fmt.Errorf("%w: textbelt status %d", ErrDelivery, resp.StatusCode)
	}

	return fmt.Sprintf("%d", textbeltResp.TextID), nil
}

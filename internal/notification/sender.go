package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hackgods/clinic-appointments/internal/config"
)

// ErrNotConfigured is returned by a sender without credentials. The
// dispatcher treats it as a skipped channel, not a failure.
var ErrNotConfigured = errors.New("channel not configured")

// SMSSender sends a short text message and returns the provider message id.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, text string) (string, error)
	Configured() bool
}

// EmailSender sends an HTML + plain text email and returns the provider message id.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) (string, error)
	Configured() bool
}

// TwilioSMSSender talks to a Twilio-compatible Messages API.
type TwilioSMSSender struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
}

func NewTwilioSMSSender(cfg config.SMSConfig, timeout time.Duration) *TwilioSMSSender {
	return &TwilioSMSSender{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *TwilioSMSSender) Configured() bool {
	return s.baseURL != "" && s.accountSID != "" && s.authToken != "" && s.from != ""
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

func (s *TwilioSMSSender) SendSMS(ctx context.Context, phone, text string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", s.from)
	form.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create sms request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := do(s.httpClient, req)
	if err != nil {
		return "", fmt.Errorf("send sms: %w", err)
	}

	var resp twilioResponse
	if err := json.Unmarshal(body, &resp); err != nil && status < 300 {
		return "", fmt.Errorf("decode sms response: %w", err)
	}
	if status >= 300 {
		return "", fmt.Errorf("sms api error (status %d): %s", status, resp.Message)
	}
	if resp.SID == "" {
		return "", errors.New("no message sid in sms response")
	}

	return resp.SID, nil
}

// HTTPEmailSender posts JSON to a transactional email API.
type HTTPEmailSender struct {
	apiURL     string
	apiKey     string
	from       string
	httpClient *http.Client
}

func NewHTTPEmailSender(cfg config.EmailConfig, timeout time.Duration) *HTTPEmailSender {
	return &HTTPEmailSender{
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPEmailSender) Configured() bool {
	return s.apiURL != "" && s.apiKey != "" && s.from != ""
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

type emailResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (s *HTTPEmailSender) SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(emailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		HTML:    htmlBody,
		Text:    textBody,
	})
	if err != nil {
		return "", fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	body, status, err := do(s.httpClient, req)
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}

	var resp emailResponse
	if err := json.Unmarshal(body, &resp); err != nil && status < 300 {
		return "", fmt.Errorf("decode email response: %w", err)
	}
	if status >= 300 {
		return "", fmt.Errorf("email api error (status %d): %s", status, resp.Message)
	}
	if resp.ID == "" {
		return "", errors.New("no message id in email response")
	}

	return resp.ID, nil
}

func do(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

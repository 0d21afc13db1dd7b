package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Text string
}

// RecordingSMSSender is an in-process SMSSender used by tests and local runs.
type RecordingSMSSender struct {
	mu           sync.Mutex
	calls        []SMSCall
	Unconfigured bool
	ShouldFail   bool
	FailError    string
}

func (m *RecordingSMSSender) Configured() bool { return !m.Unconfigured }

func (m *RecordingSMSSender) SendSMS(_ context.Context, phone, text string) (string, error) {
	if m.Unconfigured {
		return "", ErrNotConfigured
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: phone, Text: text})
	if m.ShouldFail {
		return "", errors.New(m.FailError)
	}
	return fmt.Sprintf("SM%04d", len(m.calls)), nil
}

// Calls returns a copy of recorded SMS calls.
func (m *RecordingSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// RecordingEmailSender is an in-process EmailSender used by tests and local runs.
type RecordingEmailSender struct {
	mu           sync.Mutex
	calls        []EmailCall
	Unconfigured bool
	ShouldFail   bool
	FailError    string
}

func (m *RecordingEmailSender) Configured() bool { return !m.Unconfigured }

func (m *RecordingEmailSender) SendEmail(_ context.Context, to, subject, htmlBody, textBody string) (string, error) {
	if m.Unconfigured {
		return "", ErrNotConfigured
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, HTML: htmlBody, Text: textBody})
	if m.ShouldFail {
		return "", errors.New(m.FailError)
	}
	return fmt.Sprintf("em_%04d", len(m.calls)), nil
}

// Calls returns a copy of recorded email calls.
func (m *RecordingEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

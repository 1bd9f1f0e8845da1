// Package mail is the e-mail collaborator: SMTP delivery, named HTML
// templates, and an observer that turns delivery outcomes into execution
// logs via the email_events channel.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calafate/loom/internal/cache"
	"github.com/calafate/loom/internal/log"
)

// Message is a single outbound e-mail. ExecutionID and StepID tie the
// delivery back to the workflow node that requested it.
type Message struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	ExecutionID int64  `json:"execution_id,omitempty"`
	StepID      string `json:"step_id,omitempty"`
}

// Result reports the outcome of a delivery attempt.
type Result struct {
	Success     bool   `json:"success"`
	EmailID     string `json:"email_id"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Error       string `json:"error,omitempty"`
	ExecutionID int64  `json:"execution_id,omitempty"`
	StepID      string `json:"step_id,omitempty"`
}

// Sender delivers e-mail. The SMTP service implements it; tests substitute
// fakes.
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Service sends e-mail over SMTP and publishes each outcome on the
// email_events channel for the observer.
type Service struct {
	cfg    Config
	events cache.Manager // optional; nil disables outcome publishing

	// send is the wire-level delivery function, swappable in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a mail Service. A nil events manager disables
// email_events publishing.
func NewService(cfg Config, events cache.Manager) *Service {
	return &Service{cfg: cfg, events: events, send: smtp.SendMail}
}

// Send delivers a message and reports the outcome. Delivery failures are
// returned in the Result rather than as an error so job handlers can record
// them uniformly.
func (s *Service) Send(ctx context.Context, msg Message) Result {
	result := Result{
		EmailID:     uuid.New().String(),
		To:          msg.To,
		Subject:     msg.Subject,
		ExecutionID: msg.ExecutionID,
		StepID:      msg.StepID,
	}

	if msg.To == "" {
		result.Error = "recipient address is empty"
	} else if err := s.deliver(msg); err != nil {
		result.Error = err.Error()
		log.ErrorErr(log.CatMail, "delivery failed", err, "to", msg.To, "emailID", result.EmailID)
	} else {
		result.Success = true
		log.Info(log.CatMail, "delivered", "to", msg.To, "emailID", result.EmailID)
	}

	s.publishOutcome(ctx, result)
	return result
}

func (s *Service) deliver(msg Message) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return s.send(addr, auth, s.cfg.From, []string{msg.To}, []byte(b.String()))
}

func (s *Service) publishOutcome(ctx context.Context, result Result) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, cache.ChannelEmailEvents, result); err != nil {
		log.ErrorErr(log.CatMail, "publish email event", err, "emailID", result.EmailID)
	}
}

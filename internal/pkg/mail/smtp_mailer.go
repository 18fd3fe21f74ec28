package mail

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"time"

	"github.com/deskrelay/deskrelay/app/models"
	"github.com/deskrelay/deskrelay/internal/pkg/env"
)

// SendMail sends an email via SMTP using the environment configuration
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// BreachMailer emails SLA breach notifications to the operations address.
// Satisfies the tracker's notifier contract.
type BreachMailer struct {
	To string
}

// NewBreachMailer reads the recipient from SLA_BREACH_EMAIL. Returns nil
// when unset so callers fall back to log-only notification.
func NewBreachMailer() *BreachMailer {
	to := env.GetEnv("SLA_BREACH_EMAIL", "")
	if to == "" {
		return nil
	}
	return &BreachMailer{To: to}
}

func (m *BreachMailer) NotifyBreach(_ context.Context, ticket *models.Ticket) error {
	subject := fmt.Sprintf("SLA breach: ticket %s", ticket.PublicID)
	body := fmt.Sprintf(
		"<p>Ticket <strong>%s</strong> (tenant %d) missed its response deadline.</p>"+
			"<p>Priority: %s<br>Channel: %s<br>Deadline: %s</p>",
		ticket.PublicID, ticket.TenantID, ticket.Priority, ticket.Channel,
		ticket.SLADeadline.Format(time.RFC3339),
	)
	return SendMail(m.To, subject, body)
}

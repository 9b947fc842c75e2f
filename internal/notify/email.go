package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/m-pilli/aws-security-auditor/internal/models"
	"github.com/m-pilli/aws-security-auditor/pkg/logger"
)

// EmailConfig holds SMTP settings for the email notifier.
type EmailConfig struct {
	Server     string
	Username   string
	Password   string
	AlertEmail string
	Port       int
}

// Configured reports whether enough settings are present to send mail.
func (c EmailConfig) Configured() bool {
	return c.AlertEmail != "" && c.Username != "" && c.Password != ""
}

// SendFunc sends an email. It matches the signature of smtp.SendMail so the
// real implementation can be injected directly.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier emails an alert when a scan produces critical or high
// severity findings.
type EmailNotifier struct {
	send SendFunc
	log  logger.Logger
	cfg  EmailConfig
}

// NewEmailNotifier creates an email notifier using net/smtp for delivery.
func NewEmailNotifier(cfg EmailConfig, log logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:  cfg,
		log:  log,
		send: smtp.SendMail,
	}
}

// Notify sends a single alert email covering every critical and high
// severity finding. It is a no-op when email is not configured or nothing
// crosses the severity threshold.
func (n *EmailNotifier) Notify(_ context.Context, findings []models.Finding) error {
	if !n.cfg.Configured() {
		n.log.Warn("email configuration not set, skipping email alert")
		return nil
	}

	urgent := filterUrgent(findings)
	if len(urgent) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Security Alert: %d Critical Issues Found", len(urgent))
	msg := buildMessage(n.cfg.Username, n.cfg.AlertEmail, subject, emailBody(urgent))

	addr := fmt.Sprintf("%s:%d", n.cfg.Server, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Server)

	if err := n.send(addr, auth, n.cfg.Username, []string{n.cfg.AlertEmail}, msg); err != nil {
		return fmt.Errorf("sending alert email: %w", err)
	}

	n.log.Info("email alert sent", "to", n.cfg.AlertEmail, "findings", len(urgent))
	return nil
}

func filterUrgent(findings []models.Finding) []models.Finding {
	var urgent []models.Finding
	for _, f := range findings {
		if f.Severity == models.SeverityCritical || f.Severity == models.SeverityHigh {
			urgent = append(urgent, f)
		}
	}
	return urgent
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func emailBody(findings []models.Finding) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<h2>AWS Security Audit Alert</h2>")
	fmt.Fprintf(&b, "<p>Found %d critical security issues requiring attention:</p>", len(findings))

	for _, f := range findings {
		fmt.Fprintf(&b, "<div><h3>[%s] %s</h3>", strings.ToUpper(string(f.Severity)), f.Type)
		fmt.Fprintf(&b, "<p><strong>Service:</strong> %s</p>", f.Service)
		fmt.Fprintf(&b, "<p><strong>Resource:</strong> %s</p>", f.ResourceID)
		fmt.Fprintf(&b, "<p><strong>Description:</strong> %s</p>", f.Description)
		fmt.Fprintf(&b, "<p><strong>Risk Score:</strong> %d/10</p>", f.RiskScore)
		if f.Recommendation != "" {
			fmt.Fprintf(&b, "<p><strong>Recommendation:</strong> %s</p>", f.Recommendation)
		}
		b.WriteString("</div>")
	}

	b.WriteString("</body></html>")
	return b.String()
}

package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/protocol"
	"github.com/smukkama/water-risk/pkg/config"
)

// ErrUnknownEventType rejects risk events no email template handles.
var ErrUnknownEventType = errors.New("unknown event type")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config *config.SMTPConfig
	send   sendFunc
	logger *zap.Logger
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailNotifier{config: cfg, send: smtp.SendMail, logger: logger.With(zap.String("component", "notification"))}
}

var (
	escalatedTemplate = template.Must(template.New("escalated").Parse(`<pre>
Water Contamination Risk RED
============================

Site: {{.SiteName}} ({{.SiteID}})
District: {{.District}}
Previous level: {{.From}}
Score: {{.Score}}
Since: {{.OccurredAt.Format "2006-01-02 15:04 MST"}}

Contributing factors:
{{range .Reasons}}  - {{.}}
{{else}}  - none recorded
{{end}}
Please arrange field testing and advise households to boil drinking water.

---
Water Risk Notification System
</pre>`))

	recoveredTemplate = template.Must(template.New("recovered").Parse(`<pre>
Water Contamination Risk Lowered
================================

Site: {{.SiteName}} ({{.SiteID}})
District: {{.District}}
Current level: {{.To}}
Score: {{.Score}}
Since: {{.OccurredAt.Format "2006-01-02 15:04 MST"}}

The site is no longer rated RED.

---
Water Risk Notification System
</pre>`))
)

// SendRiskEvent emails RED escalations and recoveries. Other transitions
// are not mailed and report false.
func (e *EmailNotifier) SendRiskEvent(event *protocol.RiskEvent) (bool, error) {
	var (
		subject string
		tmpl    *template.Template
	)
	switch event.Type {
	case protocol.RiskTypeEscalated:
		subject = fmt.Sprintf("Water risk RED - %s, %s", event.SiteName, event.District)
		tmpl = escalatedTemplate
	case protocol.RiskTypeRecovered:
		subject = fmt.Sprintf("Water risk back to %s - %s, %s", event.To, event.SiteName, event.District)
		tmpl = recoveredTemplate
	case protocol.RiskTypeChanged:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, event); err != nil {
		return false, fmt.Errorf("failed to render email template: %w", err)
	}
	if err := e.sendEmail(subject, buf.String(), event.OccurredAt); err != nil {
		return false, err
	}
	return true, nil
}

// Deliver sends event, retrying failed sends every retry until one succeeds
// or ctx ends. Events of an unknown type fail at once.
func (e *EmailNotifier) Deliver(ctx context.Context, event *protocol.RiskEvent, clock clockwork.Clock, retry time.Duration) (bool, error) {
	for attempt := 1; ; attempt++ {
		sent, err := e.SendRiskEvent(event)
		if err == nil || errors.Is(err, ErrUnknownEventType) {
			return sent, err
		}
		e.logger.Warn("failed to send notification, retrying",
			zap.String("site_id", event.SiteID),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", retry),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false, err
		case <-clock.After(retry):
		}
	}
}

func (e *EmailNotifier) sendEmail(subject, body string, at time.Time) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		e.logger.Info("SMTP not configured, skipping email", zap.String("subject", subject))
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", e.config.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", at.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("email sent", zap.String("subject", subject))
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()
	return nil
}

package email

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

// SMTPMailer hands rendered messages to an SMTP relay. Retry policy, if any,
// belongs to the caller.
type SMTPMailer struct {
	host   string
	port   int
	from   string
	logger *zap.Logger
}

func NewSMTPMailer(host string, port int, from string, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, from: from, logger: logger}
}

func (m *SMTPMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=utf-8\r\n"+
		"\r\n%s",
		m.from, to, subject, htmlBody,
	)

	if err := smtp.SendMail(addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
		m.logger.Error("failed to send email",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	m.logger.Info("email sent",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}

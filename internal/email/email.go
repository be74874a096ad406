// Package email is the outbound notification collaborator. Sends are
// best-effort: order creation never fails or blocks on them.
package email

import (
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/lecas/commerce/internal/config"
	"github.com/shopspring/decimal"
)

type Notifier interface {
	SendOrderConfirmation(to, name, orderNumber string, total decimal.Decimal) error
	SendOrderStatusUpdate(to, name, orderNumber, status, message string) error
}

type notifier struct {
	cfg    config.SMTPConfig
	logger *slog.Logger
}

// New returns a Notifier. Without an SMTP host configured it degrades to
// logging each message.
func New(cfg config.SMTPConfig, logger *slog.Logger) Notifier {
	return &notifier{cfg: cfg, logger: logger}
}

func (n *notifier) SendOrderConfirmation(to, name, orderNumber string, total decimal.Decimal) error {
	subject := fmt.Sprintf("Order %s confirmed", orderNumber)
	body := fmt.Sprintf("Hi %s,\n\nYour order %s has been received. Total: %s.\n", name, orderNumber, total)

	return n.send(to, subject, body,
		slog.String("order_number", orderNumber),
		slog.String("total", total.String()))
}

func (n *notifier) SendOrderStatusUpdate(to, name, orderNumber, status, message string) error {
	subject := fmt.Sprintf("Order %s: %s", orderNumber, status)
	body := fmt.Sprintf("Hi %s,\n\nYour order %s is now %s. %s\n", name, orderNumber, status, message)

	return n.send(to, subject, body,
		slog.String("order_number", orderNumber),
		slog.String("status", status))
}

func (n *notifier) send(to, subject, body string, attrs ...any) error {
	if n.cfg.Host == "" {
		n.logger.Info("email notification (smtp disabled)",
			append([]any{slog.String("to", to), slog.String("subject", subject)}, attrs...)...)
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", n.cfg.From, to, subject, body)
	addr := n.cfg.Host + ":" + n.cfg.Port

	if err := smtp.SendMail(addr, nil, n.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	return nil
}

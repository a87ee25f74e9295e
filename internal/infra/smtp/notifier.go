package smtp

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Notifier delivers rendered reports over plain SMTP. It speaks to an
// unauthenticated relay (a local MTA or a dev catcher like MailHog); the
// html body goes out as a single text/html part.
type Notifier struct {
	addr string
	from string
	send func(addr, from string, to []string, msg []byte) error
}

func NewNotifier(addr, from string) *Notifier {
	return &Notifier{
		addr: addr,
		from: from,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

func (n *Notifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)

	if err := n.send(n.addr, n.from, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// LogNotifier is the no-SMTP fallback: it logs the delivery instead of
// sending it, so report jobs still succeed in environments without a relay.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	log.Printf("notification to %s: %s (%d bytes)", to, subject, len(htmlBody))
	return nil
}

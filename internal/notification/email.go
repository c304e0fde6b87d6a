package notification

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSink sends event summaries through SendGrid. Configured entirely from
// the environment; an empty API key or recipient yields a disabled sink.
type EmailSink struct {
	apiKey string
	from   string
	to     []string
}

func NewEmailSinkFromEnv() *EmailSink {
	var to []string
	for _, addr := range strings.Split(os.Getenv("COSTSYNC_EMAIL_TO"), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	from := os.Getenv("COSTSYNC_EMAIL_FROM")
	if from == "" {
		from = "noreply@costsync.local"
	}
	return &EmailSink{
		apiKey: os.Getenv("SENDGRID_API_KEY"),
		from:   from,
		to:     to,
	}
}

func (e *EmailSink) Send(ctx context.Context, ev Event) error {
	if e.apiKey == "" || len(e.to) == 0 {
		return nil
	}
	// Routine all-green sync summaries stay out of inboxes.
	if ev.Type == EventSyncCompleted && ev.FailedCount == 0 {
		return nil
	}

	title, body := summarize(ev)
	from := mail.NewEmail("CostSync", e.from)

	for _, addr := range e.to {
		m := mail.NewSingleEmail(from, title, mail.NewEmail("", addr), body, htmlBody(ev, body))
		client := sendgrid.NewSendClient(e.apiKey)
		resp, err := client.SendWithContext(ctx, m)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
		}
	}
	return nil
}

func htmlBody(ev Event, plain string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<p><b>Tenant:</b> %s<br><b>Time:</b> %s</p>", ev.Tenant, ev.Timestamp.Format(time.RFC3339))
	b.WriteString("<pre>")
	b.WriteString(strings.ReplaceAll(plain, "*", ""))
	b.WriteString("</pre></body></html>")
	return b.String()
}

package mailer

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Message is one outbound email.
type Message struct {
	To      []string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	log.Info().
		Str("to", strings.Join(msg.To, ",")).
		Str("reply_to", msg.ReplyTo).
		Str("subject", msg.Subject).
		Int("body_bytes", len(msg.Text)).
		Msg("Mail: delivery disabled, message logged")
	return nil
}

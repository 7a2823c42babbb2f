package services

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"brokerage/mailer"
	"brokerage/metrics"
	"brokerage/models"
)

// ContactService relays site forms to the office inbox.
type ContactService struct {
	mail      mailer.Mailer
	contactTo []string
	careersTo []string
	careers   DirectoryStore
}

func NewContactService(m mailer.Mailer, careers DirectoryStore, contactTo, careersTo []string) *ContactService {
	if len(careersTo) == 0 {
		careersTo = contactTo
	}
	return &ContactService{mail: m, careers: careers, contactTo: contactTo, careersTo: careersTo}
}

func (s *ContactService) SubmitContact(ctx context.Context, req *models.ContactRequest) error {
	if err := Validate(req); err != nil {
		return err
	}

	subject := req.Subject
	if subject == "" {
		subject = "Website inquiry from " + req.Name
	}
	if req.ListingID != "" {
		subject += " (listing " + req.ListingID + ")"
	}

	rows := [][2]string{
		{"Name", req.Name},
		{"Email", req.Email},
		{"Phone", req.Phone},
		{"Listing", req.ListingID},
	}
	return s.send(ctx, "contact", mailer.Message{
		To:      s.contactTo,
		ReplyTo: req.Email,
		Subject: subject,
		Text:    textBody(rows, req.Message),
		HTML:    htmlBody(rows, req.Message),
	})
}

// SubmitApplication relays an application for an open posting.
func (s *ContactService) SubmitApplication(ctx context.Context, careerID uuid.UUID, app *models.JobApplication) error {
	if err := Validate(app); err != nil {
		return err
	}
	career, err := s.careers.GetCareer(ctx, careerID)
	if err != nil {
		return err
	}
	if career == nil || !career.Active {
		return ErrNotFound
	}

	rows := [][2]string{
		{"Position", career.Title},
		{"Name", app.Name},
		{"Email", app.Email},
		{"Phone", app.Phone},
		{"Resume", app.ResumeURL},
		{"LinkedIn", app.LinkedInURL},
	}
	return s.send(ctx, "application", mailer.Message{
		To:      s.careersTo,
		ReplyTo: app.Email,
		Subject: fmt.Sprintf("Application: %s from %s", career.Title, app.Name),
		Text:    textBody(rows, app.Message),
		HTML:    htmlBody(rows, app.Message),
	})
}

func (s *ContactService) send(ctx context.Context, kind string, msg mailer.Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("%s recipients: %w", kind, ErrUnavailable)
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		metrics.EmailsSent.WithLabelValues(kind, "error").Inc()
		log.Error().Err(err).Str("kind", kind).Msg("Mail: relay failed")
		return &UpstreamError{Err: err}
	}
	metrics.EmailsSent.WithLabelValues(kind, "ok").Inc()
	return nil
}

func textBody(rows [][2]string, message string) string {
	var b strings.Builder
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", r[0], r[1])
	}
	b.WriteString("\n")
	b.WriteString(message)
	b.WriteString("\n")
	return b.String()
}

func htmlBody(rows [][2]string, message string) string {
	var b strings.Builder
	b.WriteString("<table>")
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "<tr><th align=\"left\">%s</th><td>%s</td></tr>", r[0], html.EscapeString(r[1]))
	}
	b.WriteString("</table><p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(message), "\n", "<br>"))
	b.WriteString("</p>")
	return b.String()
}

package mailer

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	got *ses.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESMailerSetsReplyTo(t *testing.T) {
	fake := &fakeSES{}
	m := &SESMailer{client: fake, from: "site@example.com"}

	err := m.Send(context.Background(), Message{
		To:      []string{"office@example.com"},
		ReplyTo: "buyer@example.com",
		Subject: "Hello",
		Text:    "plain",
		HTML:    "<p>plain</p>",
	})
	require.NoError(t, err)
	require.NotNil(t, fake.got)

	assert.Equal(t, "site@example.com", aws.ToString(fake.got.Source))
	assert.Equal(t, []string{"office@example.com"}, fake.got.Destination.ToAddresses)
	assert.Equal(t, []string{"buyer@example.com"}, fake.got.ReplyToAddresses)
	assert.Equal(t, "Hello", aws.ToString(fake.got.Message.Subject.Data))
	assert.Equal(t, "plain", aws.ToString(fake.got.Message.Body.Text.Data))
	assert.Equal(t, "<p>plain</p>", aws.ToString(fake.got.Message.Body.Html.Data))
}

func TestSESMailerWithoutHTML(t *testing.T) {
	in := buildInput("a@example.com", Message{To: []string{"b@example.com"}, Subject: "s", Text: "t"})
	assert.Nil(t, in.Message.Body.Html)
	assert.Empty(t, in.ReplyToAddresses)
}

func TestSESMailerWrapsError(t *testing.T) {
	m := &SESMailer{client: &fakeSES{err: errors.New("throttled")}, from: "a@example.com"}
	err := m.Send(context.Background(), Message{To: []string{"b@example.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

package mailer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/resend/resend-go/v2"
)

type ResendProvider struct {
	client *resend.Client
	from   string
}

func NewResendProvider(apiKey, from string) *ResendProvider {
	return &ResendProvider{client: resend.NewClient(apiKey), from: from}
}

func (p *ResendProvider) Send(ctx context.Context, email Email) (string, error) {
	params := &resend.SendEmailRequest{
		From:    p.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
	}

	for name, value := range email.Tags {
		params.Tags = append(params.Tags, resend.Tag{Name: name, Value: value})
	}

	sent, err := p.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "resend")
	}

	return sent.Id, nil
}

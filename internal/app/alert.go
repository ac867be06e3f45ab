package app

import (
	"context"
	"fmt"

	"rotif/pkg/email"
	"rotif/pkg/rotif"
)

// dlqAlerter sends an operator email once the dead-letter queue crosses its
// configured depth threshold. It implements rotif.Alerter.
type dlqAlerter struct {
	sender    email.EmailSender
	toEmail   string
	threshold int64
	appName   string
}

func newDLQAlerter(sender email.EmailSender, toEmail, appName string, threshold int64) rotif.Alerter {
	return &dlqAlerter{sender: sender, toEmail: toEmail, appName: appName, threshold: threshold}
}

func (a *dlqAlerter) Alert(ctx context.Context, depth int64) error {
	html, text, err := email.BuildDLQAlertEmail(email.DLQAlertParams{
		Stream:    "rotif:dlq",
		Count:     depth,
		Threshold: a.threshold,
		AppName:   a.appName,
	})
	if err != nil {
		return fmt.Errorf("failed to render DLQ alert email: %w", err)
	}

	return a.sender.Send(ctx, email.SendEmailParams{
		To:      []string{a.toEmail},
		Subject: fmt.Sprintf("Rotif DLQ depth alert: %d entries", depth),
		HTML:    html,
		Text:    text,
	})
}

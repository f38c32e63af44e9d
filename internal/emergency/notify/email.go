// internal/emergency/notify/email.go
package notify

import (
	"context"
	"fmt"

	awsclient "maternalhub-agent/internal/common/aws"
	"maternalhub-agent/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Email sends emergency notifications to a configured address via SES.
type Email struct {
	client *awsclient.SESClient
	from   string
	to     string
	logger logger.Logger
}

func NewEmail(client *awsclient.SESClient, from, to string, log logger.Logger) *Email {
	return &Email{
		client: client,
		from:   from,
		to:     to,
		logger: log.WithFields(map[string]interface{}{"component": "notify-email"}),
	}
}

func (e *Email) Notify(ctx context.Context, event Event) {
	switch event.Kind {
	case KindHospitalResponded, KindCancelled:
	default:
		return
	}

	subject := fmt.Sprintf("Maternal Hub emergency update: %s", event.Kind)
	body := event.Message
	charset := "UTF-8"

	_, err := e.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: &e.from,
		Destination: &sestypes.Destination{
			ToAddresses: []string{e.to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: &subject, Charset: &charset},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: &body, Charset: &charset},
			},
		},
	})
	if err != nil {
		e.logger.Warn("email notification failed", map[string]interface{}{
			"kind":  string(event.Kind),
			"error": err.Error(),
		})
	}
}

// internal/emergency/notify/sms.go
package notify

import (
	"context"

	awsclient "maternalhub-agent/internal/common/aws"
	"maternalhub-agent/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SMS publishes hospital-response and cancellation notifications to the
// patient's phone via SNS. Transient delivery failures are logged only.
type SMS struct {
	client *awsclient.SNSClient
	phone  string
	logger logger.Logger
}

func NewSMS(client *awsclient.SNSClient, phone string, log logger.Logger) *SMS {
	return &SMS{
		client: client,
		phone:  phone,
		logger: log.WithFields(map[string]interface{}{"component": "notify-sms"}),
	}
}

func (s *SMS) Notify(ctx context.Context, event Event) {
	// SMS is reserved for the events the patient must see away from the app.
	switch event.Kind {
	case KindHospitalResponded, KindCancelled, KindCancelNotSynced:
	default:
		return
	}

	message := event.Message
	phone := s.phone
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		Message:     &message,
		PhoneNumber: &phone,
	})
	if err != nil {
		s.logger.Warn("sms notification failed", map[string]interface{}{
			"kind":  string(event.Kind),
			"error": err.Error(),
		})
	}
}

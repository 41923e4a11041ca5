package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"tourbook/src/lib"
	"tourbook/src/types"
)

// NewMailerMessage queues input for the mail worker instead of sending it
// inline. Local runs go through Kafka, deployed ones through SQS.
func NewMailerMessage(ctx context.Context, input *lib.SendMailInput) error {
	emailQueue := os.Getenv("EMAIL_QUEUE")
	if emailQueue == "" {
		emailQueue = "tourbook-emails"
	}
	if types.Environment(os.Getenv("API_ENV")) == types.Local {
		if err := lib.KafkaProduceMessage("emails", emailQueue, input.Subject, input); err != nil {
			return fmt.Errorf("error sending message to queue: %s", err.Error())
		}
		return nil
	}
	body, err := json.Marshal(input)
	if err != nil {
		return err
	}
	if err := lib.SQSProduceMessage(ctx, emailQueue, string(body)); err != nil {
		return fmt.Errorf("error sending message to queue: %s", err.Error())
	}
	return nil
}

package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageAPI is the slice of the Twilio REST client the adapter uses.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	FetchMessage(sid string, params *twilioApi.FetchMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioAdapter delivers replies as SMS through Twilio.
type TwilioAdapter struct {
	api  messageAPI
	from string
}

// NewTwilioAdapter validates credentials and builds the REST client.
func NewTwilioAdapter(accountSID, authToken, fromNumber string) (*TwilioAdapter, error) {
	accountSID = strings.TrimSpace(accountSID)
	authToken = strings.TrimSpace(authToken)
	if accountSID == "" || authToken == "" {
		return nil, errors.New("twilio credentials not provided: set TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
	}
	fromNumber = strings.TrimSpace(fromNumber)
	if fromNumber == "" {
		return nil, errors.New("twilio from number not provided: set TWILIO_FROM_NUMBER")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioAdapter{api: client.Api, from: fromNumber}, nil
}

// Name identifies the adapter in delivery records.
func (t *TwilioAdapter) Name() string { return "twilio" }

// Send delivers msg as an SMS from the configured number.
func (t *TwilioAdapter) Send(ctx context.Context, msg Outbound) Result {
	if err := ctx.Err(); err != nil {
		return failed(t.Name(), err)
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return failed(t.Name(), errors.New("recipient phone number is required"))
	}
	body := msg.Body
	if strings.TrimSpace(body) == "" {
		body = defaultBody
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		logrus.WithError(err).WithField("conversation_id", msg.ConversationID).Warn("twilio send failed")
		return failed(t.Name(), fmt.Errorf("twilio error: %w", err))
	}

	result := Result{Success: true, Status: StatusSent, Provider: t.Name()}
	if resp != nil {
		result.MessageID = deref(resp.Sid)
		if status := deref(resp.Status); status != "" {
			result.Status = status
		}
	}
	logrus.WithFields(logrus.Fields{
		"conversation_id": msg.ConversationID,
		"sid":             result.MessageID,
	}).Info("twilio sms sent")
	return result
}

// Status fetches the current provider status of a sent message.
func (t *TwilioAdapter) Status(sid string) (Result, error) {
	resp, err := t.api.FetchMessage(sid, &twilioApi.FetchMessageParams{})
	if err != nil {
		return Result{}, fmt.Errorf("fetch twilio message %s: %w", sid, err)
	}
	result := Result{Success: true, MessageID: deref(resp.Sid), Status: deref(resp.Status), Provider: t.Name()}
	if msg := deref(resp.ErrorMessage); msg != "" {
		result.Success = false
		result.Error = msg
	}
	return result, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

package sqs

import (
	"context"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/metadata"
)

type SendMessageInput struct {
	QueueName         string        `json:"QueueName,omitempty"`
	QueueURL          string        `json:"QueueUrl,omitempty"`
	MessageBody       string        `json:"MessageBody"`
	DelaySeconds      int           `json:"DelaySeconds,omitempty"`
	MessageAttributes metadata.Item `json:"MessageAttributes,omitempty"`
}

type SendMessageOutput struct {
	MessageID string `json:"MessageId"`
}

func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (SendMessageOutput, error) {
	name, err := resolveQueue(in.QueueName, in.QueueURL)
	if err != nil {
		return SendMessageOutput{}, err
	}
	res := apierr.Resource{Type: apierr.ResourceMessage, Container: name}
	if len(in.MessageBody) == 0 || len(in.MessageBody) > MaxBodySize {
		return SendMessageOutput{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
			"message body must be between 1 and %d bytes", MaxBodySize)
	}
	if !utf8.ValidString(in.MessageBody) {
		return SendMessageOutput{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "message body must be valid UTF-8")
	}
	delay := time.Duration(in.DelaySeconds) * time.Second
	if delay < 0 || delay > MaxDelay {
		return SendMessageOutput{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
			"delay must be between 0 and %s seconds", seconds(MaxDelay))
	}

	m, err := s.catalog.SendMessage(name, in.MessageBody, in.MessageAttributes, delay)
	if err != nil {
		return SendMessageOutput{}, err
	}
	// Delayed sends also wake pollers so they rearm on the new visible time.
	s.waiters.signal(name)
	return SendMessageOutput{MessageID: m.ID}, nil
}

type ReceiveMessageInput struct {
	QueueName           string `json:"QueueName,omitempty"`
	QueueURL            string `json:"QueueUrl,omitempty"`
	MaxNumberOfMessages int    `json:"MaxNumberOfMessages,omitempty"`
	WaitTimeSeconds     int    `json:"WaitTimeSeconds,omitempty"`

	// VisibilityTimeout overrides the queue default for this call.
	VisibilityTimeout *int `json:"VisibilityTimeout,omitempty"`
}

type Message struct {
	MessageID         string            `json:"MessageId"`
	ReceiptHandle     string            `json:"ReceiptHandle"`
	Body              string            `json:"Body"`
	Attributes        map[string]string `json:"Attributes"`
	MessageAttributes metadata.Item     `json:"MessageAttributes,omitempty"`
}

type ReceiveMessageOutput struct {
	Messages []Message `json:"Messages"`
}

func toMessage(m metadata.Message) Message {
	return Message{
		MessageID:     m.ID,
		ReceiptHandle: m.ReceiptHandle(),
		Body:          m.Body,
		Attributes: map[string]string{
			AttrApproximateReceiveCount:   strconv.Itoa(m.DeliveryCount),
			AttrSentTimestamp:             strconv.FormatInt(m.SentAt.UnixMilli(), 10),
			AttrApproximateFirstReceiveTS: strconv.FormatInt(m.FirstReceived.UnixMilli(), 10),
		},
		MessageAttributes: m.Attributes,
	}
}

// ReceiveMessage delivers up to MaxNumberOfMessages visible messages. With a
// wait time it long-polls: the call sleeps until a send, until the earliest
// hidden message becomes visible, until the wait expires, or until ctx is
// done, retrying the receive after each wake. Expiry and cancellation
// return an empty result.
func (s *Service) ReceiveMessage(ctx context.Context, in ReceiveMessageInput) (ReceiveMessageOutput, error) {
	name, err := resolveQueue(in.QueueName, in.QueueURL)
	if err != nil {
		return ReceiveMessageOutput{}, err
	}
	res := apierr.Resource{Type: apierr.ResourceQueue, Name: name}
	maxMessages := in.MaxNumberOfMessages
	if maxMessages == 0 {
		maxMessages = 1
	}
	if maxMessages < 1 || maxMessages > MaxReceiveMessages {
		return ReceiveMessageOutput{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
			"max number of messages must be between 1 and %d", MaxReceiveMessages)
	}
	wait := time.Duration(in.WaitTimeSeconds) * time.Second
	if wait < 0 || wait > s.cfg.MaxWaitTime {
		return ReceiveMessageOutput{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
			"wait time must be between 0 and %s seconds", seconds(s.cfg.MaxWaitTime))
	}
	visibility := time.Duration(-1)
	if in.VisibilityTimeout != nil {
		visibility = time.Duration(*in.VisibilityTimeout) * time.Second
		if visibility < 0 || visibility > MaxVisibilityTimeout {
			return ReceiveMessageOutput{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
				"visibility timeout must be between 0 and %s seconds", seconds(MaxVisibilityTimeout))
		}
	}

	deadline := s.clk.Now().Add(wait)
	for {
		// Take the wake channel before receiving so a send racing with
		// the receive is not missed.
		wake := s.waiters.wait(name)
		got, err := s.catalog.ReceiveMessages(name, maxMessages, visibility)
		if err != nil {
			return ReceiveMessageOutput{}, err
		}
		if len(got.Messages) > 0 {
			out := ReceiveMessageOutput{Messages: make([]Message, 0, len(got.Messages))}
			for _, m := range got.Messages {
				out.Messages = append(out.Messages, toMessage(m))
			}
			return out, nil
		}

		now := s.clk.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return ReceiveMessageOutput{Messages: []Message{}}, nil
		}
		sleep := remaining
		if !got.NextVisible.IsZero() {
			if d := got.NextVisible.Sub(now); d < sleep {
				sleep = d
			}
		}
		select {
		case <-wake:
		case <-s.clk.After(sleep):
		case <-ctx.Done():
			return ReceiveMessageOutput{Messages: []Message{}}, nil
		}
	}
}

type DeleteMessageInput struct {
	QueueName     string `json:"QueueName,omitempty"`
	QueueURL      string `json:"QueueUrl,omitempty"`
	ReceiptHandle string `json:"ReceiptHandle"`
}

type DeleteMessageOutput struct{}

func (s *Service) DeleteMessage(ctx context.Context, in DeleteMessageInput) (DeleteMessageOutput, error) {
	name, err := resolveQueue(in.QueueName, in.QueueURL)
	if err != nil {
		return DeleteMessageOutput{}, err
	}
	return DeleteMessageOutput{}, s.catalog.DeleteMessage(name, in.ReceiptHandle)
}

type ChangeMessageVisibilityInput struct {
	QueueName         string `json:"QueueName,omitempty"`
	QueueURL          string `json:"QueueUrl,omitempty"`
	ReceiptHandle     string `json:"ReceiptHandle"`
	VisibilityTimeout int    `json:"VisibilityTimeout"`
}

type ChangeMessageVisibilityOutput struct{}

func (s *Service) ChangeMessageVisibility(ctx context.Context, in ChangeMessageVisibilityInput) (ChangeMessageVisibilityOutput, error) {
	name, err := resolveQueue(in.QueueName, in.QueueURL)
	if err != nil {
		return ChangeMessageVisibilityOutput{}, err
	}
	timeout := time.Duration(in.VisibilityTimeout) * time.Second
	if timeout < 0 || timeout > MaxVisibilityTimeout {
		return ChangeMessageVisibilityOutput{}, apierr.InvalidArgument(
			apierr.Resource{Type: apierr.ResourceMessage, Container: name}, apierr.ReasonMalformedInput,
			"visibility timeout must be between 0 and %s seconds", seconds(MaxVisibilityTimeout))
	}
	if _, err := s.catalog.ChangeMessageVisibility(name, in.ReceiptHandle, timeout); err != nil {
		return ChangeMessageVisibilityOutput{}, err
	}
	s.waiters.signal(name)
	return ChangeMessageVisibilityOutput{}, nil
}

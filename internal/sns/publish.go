package sns

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/notify"
	"github.com/eniz1806/CloudEmu/internal/sqs"
)

// maxQueueFanout bounds concurrent queue deliveries for one publish.
const maxQueueFanout = 8

// Notification is the envelope every subscriber receives.
type Notification struct {
	Type      string    `json:"Type"`
	MessageID string    `json:"MessageId"`
	TopicArn  string    `json:"TopicArn"`
	Subject   string    `json:"Subject,omitempty"`
	Message   string    `json:"Message"`
	Timestamp time.Time `json:"Timestamp"`
}

type PublishInput struct {
	TopicName string `json:"TopicName,omitempty"`
	TopicArn  string `json:"TopicArn,omitempty"`
	Subject   string `json:"Subject,omitempty"`
	Message   string `json:"Message"`
}

type PublishOutput struct {
	MessageID string `json:"MessageId"`
}

// Publish stores the message into every subscribed queue before returning
// and schedules delivery to the remaining endpoints. A subscribed queue that
// no longer exists is skipped.
func (s *Service) Publish(ctx context.Context, in PublishInput) (PublishOutput, error) {
	name, err := resolveTopic(in.TopicName, in.TopicArn)
	if err != nil {
		return PublishOutput{}, err
	}
	if len(in.Message) == 0 || len(in.Message) > MaxMessageSize {
		return PublishOutput{}, apierr.InvalidArgument(topicRes(name), apierr.ReasonMalformedInput,
			"message must be between 1 and %d bytes", MaxMessageSize)
	}
	subs, err := s.catalog.ListSubscriptions(name)
	if err != nil {
		return PublishOutput{}, err
	}

	n := Notification{
		Type:      "Notification",
		MessageID: uuid.NewString(),
		TopicArn:  s.topicARN(name),
		Subject:   in.Subject,
		Message:   in.Message,
		Timestamp: s.clk.Now().UTC(),
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return PublishOutput{}, apierr.Internal(err, "encode notification")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxQueueFanout)
	for _, sub := range subs {
		if sub.Protocol != ProtocolSQS {
			s.enqueue(notify.Target{Protocol: sub.Protocol, Endpoint: sub.Endpoint}, payload)
			continue
		}
		queue, _ := queueName(sub.Endpoint)
		g.Go(func() error {
			_, err := s.queues.SendMessage(gctx, sqs.SendMessageInput{QueueName: queue, MessageBody: string(payload)})
			if apierr.Is(err, apierr.KindNotFound) {
				slog.Warn("sns subscription queue missing, skipping", "topic", name, "queue", queue)
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return PublishOutput{}, err
	}
	return PublishOutput{MessageID: n.MessageID}, nil
}

func (s *Service) enqueue(t notify.Target, payload []byte) {
	if s.notifier == nil {
		slog.Warn("sns notifications disabled, dropping delivery", "protocol", t.Protocol, "endpoint", t.Endpoint)
		return
	}
	s.notifier.Enqueue(t, payload)
}

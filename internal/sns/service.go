// Package sns implements the pub/sub service. Topics fan published messages
// out to their subscriptions: local queues receive them before Publish
// returns, every other protocol is handed to the notification pool.
package sns

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/clock"
	"github.com/eniz1806/CloudEmu/internal/metadata"
	"github.com/eniz1806/CloudEmu/internal/notify"
	"github.com/eniz1806/CloudEmu/internal/sqs"
)

// ProtocolSQS delivers into a queue of the same namespace.
const ProtocolSQS = "sqs"

// MaxMessageSize bounds a published message body.
const MaxMessageSize = 256 << 10

// Catalog is the slice of the metadata catalog the pub/sub service uses.
type Catalog interface {
	Namespace() metadata.Namespace

	CreateTopic(name string) (metadata.Topic, error)
	GetTopic(name string) (metadata.Topic, error)
	ListTopics() ([]metadata.Topic, error)
	DeleteTopic(name string) error
	Subscribe(topic, protocol, endpoint string) (metadata.Subscription, error)
	Unsubscribe(id string) error
	ListSubscriptions(topic string) ([]metadata.Subscription, error)
}

// QueueSender is the queue service operation used for sqs subscriptions.
type QueueSender interface {
	SendMessage(ctx context.Context, in sqs.SendMessageInput) (sqs.SendMessageOutput, error)
}

// Notifier schedules asynchronous delivery to an external endpoint.
type Notifier interface {
	Enqueue(t notify.Target, payload []byte) bool
}

type Service struct {
	catalog  Catalog
	queues   QueueSender
	notifier Notifier
	clk      clock.Clock
}

// NewService wires the pub/sub service. A nil notifier drops deliveries to
// external endpoints.
func NewService(catalog Catalog, queues QueueSender, notifier Notifier, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{catalog: catalog, queues: queues, notifier: notifier, clk: clk}
}

var (
	topicNameRe = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,256}$`)
	queueNameRe = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,80}$`)
)

func topicRes(name string) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceTopic, Name: name}
}

func (s *Service) topicARN(name string) string {
	ns := s.catalog.Namespace()
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", ns.Region, ns.Account, name)
}

// resolveTopic takes the topic name from either the name or the ARN.
func resolveTopic(name, arn string) (string, error) {
	if name == "" && arn != "" {
		name = arn[strings.LastIndex(arn, ":")+1:]
	}
	if !topicNameRe.MatchString(name) {
		return "", apierr.NotFound(topicRes(name), "topic does not exist")
	}
	return name, nil
}

// queueName extracts the queue from a queue name, URL or ARN endpoint.
func queueName(endpoint string) (string, bool) {
	name := endpoint[strings.LastIndexAny(endpoint, "/:")+1:]
	return name, queueNameRe.MatchString(name)
}

type CreateTopicInput struct {
	Name string `json:"Name"`
}

type CreateTopicOutput struct {
	TopicArn string `json:"TopicArn"`
}

// CreateTopic is idempotent: an existing topic is returned unchanged.
func (s *Service) CreateTopic(ctx context.Context, in CreateTopicInput) (CreateTopicOutput, error) {
	if !topicNameRe.MatchString(in.Name) {
		return CreateTopicOutput{}, apierr.InvalidArgument(topicRes(in.Name), apierr.ReasonInvalidName,
			"topic name must be 1-256 characters of letters, digits, '-' and '_'")
	}
	t, err := s.catalog.CreateTopic(in.Name)
	if err != nil {
		return CreateTopicOutput{}, err
	}
	return CreateTopicOutput{TopicArn: s.topicARN(t.Name)}, nil
}

type DeleteTopicInput struct {
	TopicName string `json:"TopicName,omitempty"`
	TopicArn  string `json:"TopicArn,omitempty"`
}

type DeleteTopicOutput struct{}

func (s *Service) DeleteTopic(ctx context.Context, in DeleteTopicInput) (DeleteTopicOutput, error) {
	name, err := resolveTopic(in.TopicName, in.TopicArn)
	if err != nil {
		return DeleteTopicOutput{}, err
	}
	return DeleteTopicOutput{}, s.catalog.DeleteTopic(name)
}

type ListTopicsInput struct{}

type TopicSummary struct {
	TopicArn string `json:"TopicArn"`
}

type ListTopicsOutput struct {
	Topics []TopicSummary `json:"Topics"`
}

func (s *Service) ListTopics(ctx context.Context, _ ListTopicsInput) (ListTopicsOutput, error) {
	topics, err := s.catalog.ListTopics()
	if err != nil {
		return ListTopicsOutput{}, err
	}
	out := ListTopicsOutput{Topics: make([]TopicSummary, 0, len(topics))}
	for _, t := range topics {
		out.Topics = append(out.Topics, TopicSummary{TopicArn: s.topicARN(t.Name)})
	}
	return out, nil
}

type SubscribeInput struct {
	TopicName string `json:"TopicName,omitempty"`
	TopicArn  string `json:"TopicArn,omitempty"`
	Protocol  string `json:"Protocol"`
	Endpoint  string `json:"Endpoint"`
}

type SubscribeOutput struct {
	SubscriptionArn string `json:"SubscriptionArn"`
}

// Subscribe validates the endpoint for its protocol without connecting to
// it. Subscribing the same endpoint twice returns the first subscription.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput) (SubscribeOutput, error) {
	name, err := resolveTopic(in.TopicName, in.TopicArn)
	if err != nil {
		return SubscribeOutput{}, err
	}
	res := apierr.Resource{Type: apierr.ResourceSubscription, Container: name}
	switch {
	case in.Protocol == ProtocolSQS:
		if _, ok := queueName(in.Endpoint); !ok {
			return SubscribeOutput{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
				"sqs endpoint %q does not name a queue", in.Endpoint)
		}
	case slices.Contains(notify.Protocols, in.Protocol):
		if _, err := notify.ParseTarget(in.Protocol, in.Endpoint); err != nil {
			return SubscribeOutput{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "%v", err)
		}
	default:
		return SubscribeOutput{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
			"unsupported protocol %q", in.Protocol)
	}
	sub, err := s.catalog.Subscribe(name, in.Protocol, in.Endpoint)
	if err != nil {
		return SubscribeOutput{}, err
	}
	return SubscribeOutput{SubscriptionArn: s.topicARN(sub.ID)}, nil
}

type UnsubscribeInput struct {
	SubscriptionArn string `json:"SubscriptionArn"`
}

type UnsubscribeOutput struct{}

// Unsubscribe accepts the subscription ARN or its bare "topic:id" form.
func (s *Service) Unsubscribe(ctx context.Context, in UnsubscribeInput) (UnsubscribeOutput, error) {
	id := in.SubscriptionArn
	if strings.HasPrefix(id, "arn:") {
		parts := strings.SplitN(id, ":", 6)
		if len(parts) == 6 {
			id = parts[5]
		}
	}
	return UnsubscribeOutput{}, s.catalog.Unsubscribe(id)
}

type ListSubscriptionsByTopicInput struct {
	TopicName string `json:"TopicName,omitempty"`
	TopicArn  string `json:"TopicArn,omitempty"`
}

type SubscriptionSummary struct {
	SubscriptionArn string `json:"SubscriptionArn"`
	TopicArn        string `json:"TopicArn"`
	Protocol        string `json:"Protocol"`
	Endpoint        string `json:"Endpoint"`
}

type ListSubscriptionsByTopicOutput struct {
	Subscriptions []SubscriptionSummary `json:"Subscriptions"`
}

func (s *Service) ListSubscriptionsByTopic(ctx context.Context, in ListSubscriptionsByTopicInput) (ListSubscriptionsByTopicOutput, error) {
	name, err := resolveTopic(in.TopicName, in.TopicArn)
	if err != nil {
		return ListSubscriptionsByTopicOutput{}, err
	}
	subs, err := s.catalog.ListSubscriptions(name)
	if err != nil {
		return ListSubscriptionsByTopicOutput{}, err
	}
	out := ListSubscriptionsByTopicOutput{Subscriptions: make([]SubscriptionSummary, 0, len(subs))}
	for _, sub := range subs {
		out.Subscriptions = append(out.Subscriptions, SubscriptionSummary{
			SubscriptionArn: s.topicARN(sub.ID),
			TopicArn:        s.topicARN(name),
			Protocol:        sub.Protocol,
			Endpoint:        sub.Endpoint,
		})
	}
	return out, nil
}

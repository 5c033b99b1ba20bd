// Package sqs implements the message queue service: queues, at-least-once
// delivery with visibility timeouts, and long-poll receives.
package sqs

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/clock"
	"github.com/eniz1806/CloudEmu/internal/metadata"
)

// Limits enforced on queue attributes and calls.
const (
	MaxVisibilityTimeout = 12 * time.Hour
	MinRetentionPeriod   = time.Minute
	MaxRetentionPeriod   = 14 * 24 * time.Hour
	MaxDelay             = 15 * time.Minute
	MaxWaitTime          = 20 * time.Second
	MaxBodySize          = 256 << 10
	MaxReceiveMessages   = 10

	DefaultVisibilityTimeout = 30 * time.Second
	DefaultRetentionPeriod   = 4 * 24 * time.Hour
)

// Queue attribute names.
const (
	AttrVisibilityTimeout         = "VisibilityTimeout"
	AttrMessageRetentionPeriod    = "MessageRetentionPeriod"
	AttrCreatedTimestamp          = "CreatedTimestamp"
	AttrApproximateMessages       = "ApproximateNumberOfMessages"
	AttrApproximateNotVisible     = "ApproximateNumberOfMessagesNotVisible"
	AttrApproximateDelayed        = "ApproximateNumberOfMessagesDelayed"
	AttrApproximateReceiveCount   = "ApproximateReceiveCount"
	AttrSentTimestamp             = "SentTimestamp"
	AttrApproximateFirstReceiveTS = "ApproximateFirstReceiveTimestamp"
)

// Catalog is the slice of the metadata catalog the queue service uses.
type Catalog interface {
	Namespace() metadata.Namespace

	CreateQueue(q metadata.Queue) (metadata.Queue, error)
	GetQueue(name string) (metadata.Queue, error)
	ListQueues(prefix string) ([]metadata.Queue, error)
	DeleteQueue(name string) error
	PurgeQueue(name string) (int, error)
	QueueStats(name string) (metadata.QueueStats, error)

	SendMessage(queue, body string, attrs metadata.Item, delay time.Duration) (metadata.Message, error)
	ReceiveMessages(queue string, maxMessages int, visibility time.Duration) (metadata.ReceiveResult, error)
	DeleteMessage(queue, handle string) error
	ChangeMessageVisibility(queue, handle string, timeout time.Duration) (metadata.Message, error)
	PruneExpiredMessages() (int, error)
}

type Config struct {
	DefaultVisibilityTimeout time.Duration
	DefaultRetentionPeriod   time.Duration
	MaxWaitTime              time.Duration
}

type Service struct {
	catalog Catalog
	clk     clock.Clock
	cfg     Config
	waiters *waiters
}

func NewService(catalog Catalog, clk clock.Clock, cfg Config) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.DefaultVisibilityTimeout <= 0 {
		cfg.DefaultVisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.DefaultRetentionPeriod <= 0 {
		cfg.DefaultRetentionPeriod = DefaultRetentionPeriod
	}
	if cfg.MaxWaitTime <= 0 || cfg.MaxWaitTime > MaxWaitTime {
		cfg.MaxWaitTime = MaxWaitTime
	}
	return &Service{catalog: catalog, clk: clk, cfg: cfg, waiters: newWaiters()}
}

var queueNameRe = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,80}$`)

func queueRes(name string) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceQueue, Name: name}
}

func validateQueueName(name string) error {
	if !queueNameRe.MatchString(name) {
		return apierr.InvalidArgument(queueRes(name), apierr.ReasonInvalidName,
			"queue name must be 1-80 characters of letters, digits, '-' and '_'")
	}
	return nil
}

// resolveQueue picks the queue name from either the name or the URL field.
// Unknown or malformed names are reported as missing queues.
func resolveQueue(name, url string) (string, error) {
	if name == "" && url != "" {
		name = url[strings.LastIndex(url, "/")+1:]
	}
	if validateQueueName(name) != nil {
		return "", apierr.NotFound(queueRes(name), "queue does not exist")
	}
	return name, nil
}

func (s *Service) queueURL(name string) string {
	ns := s.catalog.Namespace()
	return fmt.Sprintf("/%s/%s", ns.Account, name)
}

func seconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}

// parseSeconds reads a whole-second attribute bounded to [lo, hi].
func parseSeconds(queue, attr, v string, lo, hi time.Duration) (time.Duration, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	d := time.Duration(n) * time.Second
	if err != nil || d < lo || d > hi {
		return 0, apierr.InvalidArgument(queueRes(queue), apierr.ReasonMalformedInput,
			"%s must be between %s and %s seconds", attr, seconds(lo), seconds(hi))
	}
	return d, nil
}

type CreateQueueInput struct {
	QueueName  string            `json:"QueueName"`
	Attributes map[string]string `json:"Attributes,omitempty"`
}

type CreateQueueOutput struct {
	QueueURL string `json:"QueueUrl"`
}

// CreateQueue is idempotent when the attributes match the existing queue.
func (s *Service) CreateQueue(ctx context.Context, in CreateQueueInput) (CreateQueueOutput, error) {
	if err := validateQueueName(in.QueueName); err != nil {
		return CreateQueueOutput{}, err
	}
	q := metadata.Queue{
		Name:              in.QueueName,
		VisibilityTimeout: s.cfg.DefaultVisibilityTimeout,
		RetentionPeriod:   s.cfg.DefaultRetentionPeriod,
	}
	for k, v := range in.Attributes {
		var err error
		switch k {
		case AttrVisibilityTimeout:
			q.VisibilityTimeout, err = parseSeconds(in.QueueName, k, v, 0, MaxVisibilityTimeout)
		case AttrMessageRetentionPeriod:
			q.RetentionPeriod, err = parseSeconds(in.QueueName, k, v, MinRetentionPeriod, MaxRetentionPeriod)
		default:
			err = apierr.InvalidArgument(queueRes(in.QueueName), apierr.ReasonMalformedInput, "unsupported attribute %q", k)
		}
		if err != nil {
			return CreateQueueOutput{}, err
		}
	}
	if _, err := s.catalog.CreateQueue(q); err != nil {
		return CreateQueueOutput{}, err
	}
	return CreateQueueOutput{QueueURL: s.queueURL(in.QueueName)}, nil
}

type DeleteQueueInput struct {
	QueueName string `json:"QueueName,omitempty"`
	QueueURL  string `json:"QueueUrl,omitempty"`
}

type DeleteQueueOutput struct{}

func (s *Service) DeleteQueue(ctx context.Context, in DeleteQueueInput) (DeleteQueueOutput, error) {
	name, err := resolveQueue(in.QueueName, in.QueueURL)
	if err != nil {
		return DeleteQueueOutput{}, err
	}
	if err := s.catalog.DeleteQueue(name); err != nil {
		return DeleteQueueOutput{}, err
	}
	// Wake pollers so they observe the deletion instead of waiting out
	// their deadline.
	s.waiters.signal(name)
	return DeleteQueueOutput{}, nil
}

type ListQueuesInput struct {
	QueueNamePrefix string `json:"QueueNamePrefix,omitempty"`
}

type ListQueuesOutput struct {
	QueueURLs []string `json:"QueueUrls"`
}

func (s *Service) ListQueues(ctx context.Context, in ListQueuesInput) (ListQueuesOutput, error) {
	qs, err := s.catalog.ListQueues(in.QueueNamePrefix)
	if err != nil {
		return ListQueuesOutput{}, err
	}
	out := ListQueuesOutput{QueueURLs: make([]string, 0, len(qs))}
	for _, q := range qs {
		out.QueueURLs = append(out.QueueURLs, s.queueURL(q.Name))
	}
	return out, nil
}

type GetQueueURLInput struct {
	QueueName string `json:"QueueName"`
}

type GetQueueURLOutput struct {
	QueueURL string `json:"QueueUrl"`
}

func (s *Service) GetQueueURL(ctx context.Context, in GetQueueURLInput) (GetQueueURLOutput, error) {
	name, err := resolveQueue(in.QueueName, "")
	if err != nil {
		return GetQueueURLOutput{}, err
	}
	if _, err := s.catalog.GetQueue(name); err != nil {
		return GetQueueURLOutput{}, err
	}
	return GetQueueURLOutput{QueueURL: s.queueURL(name)}, nil
}

type GetQueueAttributesInput struct {
	QueueName string `json:"QueueName,omitempty"`
	QueueURL  string `json:"QueueUrl,omitempty"`
}

type GetQueueAttributesOutput struct {
	Attributes map[string]string `json:"Attributes"`
}

// GetQueueAttributes reports the configured timeouts and the approximate
// message counts at the current instant.
func (s *Service) GetQueueAttributes(ctx context.Context, in GetQueueAttributesInput) (GetQueueAttributesOutput, error) {
	name, err := resolveQueue(in.QueueName, in.QueueURL)
	if err != nil {
		return GetQueueAttributesOutput{}, err
	}
	q, err := s.catalog.GetQueue(name)
	if err != nil {
		return GetQueueAttributesOutput{}, err
	}
	st, err := s.catalog.QueueStats(name)
	if err != nil {
		return GetQueueAttributesOutput{}, err
	}
	return GetQueueAttributesOutput{Attributes: map[string]string{
		AttrVisibilityTimeout:      seconds(q.VisibilityTimeout),
		AttrMessageRetentionPeriod: seconds(q.RetentionPeriod),
		AttrCreatedTimestamp:       strconv.FormatInt(q.CreatedAt.Unix(), 10),
		AttrApproximateMessages:    strconv.Itoa(st.Visible),
		AttrApproximateNotVisible:  strconv.Itoa(st.InFlight),
		AttrApproximateDelayed:     strconv.Itoa(st.Delayed),
	}}, nil
}

type PurgeQueueInput struct {
	QueueName string `json:"QueueName,omitempty"`
	QueueURL  string `json:"QueueUrl,omitempty"`
}

type PurgeQueueOutput struct {
	Purged int `json:"Purged"`
}

func (s *Service) PurgeQueue(ctx context.Context, in PurgeQueueInput) (PurgeQueueOutput, error) {
	name, err := resolveQueue(in.QueueName, in.QueueURL)
	if err != nil {
		return PurgeQueueOutput{}, err
	}
	n, err := s.catalog.PurgeQueue(name)
	if err != nil {
		return PurgeQueueOutput{}, err
	}
	return PurgeQueueOutput{Purged: n}, nil
}

// PruneExpiredMessages drops messages past their queue's retention period.
func (s *Service) PruneExpiredMessages(ctx context.Context) (int, error) {
	return s.catalog.PruneExpiredMessages()
}

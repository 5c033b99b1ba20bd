package server

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/clock"
	"github.com/eniz1806/CloudEmu/internal/config"
	"github.com/eniz1806/CloudEmu/internal/dispatch"
	"github.com/eniz1806/CloudEmu/internal/dynamodb"
	"github.com/eniz1806/CloudEmu/internal/errmap"
	"github.com/eniz1806/CloudEmu/internal/lifecycle"
	"github.com/eniz1806/CloudEmu/internal/locks"
	"github.com/eniz1806/CloudEmu/internal/metadata"
	"github.com/eniz1806/CloudEmu/internal/s3"
	"github.com/eniz1806/CloudEmu/internal/sns"
	"github.com/eniz1806/CloudEmu/internal/sqs"
	"github.com/eniz1806/CloudEmu/internal/storage"
)

// Services is the set of service handlers bound to one namespace.
type Services struct {
	Namespace metadata.Namespace
	S3        *s3.Service
	DynamoDB  *dynamodb.Service
	SQS       *sqs.Service
	SNS       *sns.Service

	tables map[errmap.Service]*dispatch.Table
}

// Table returns the dispatch table for svc, or nil for an unknown service.
func (s *Services) Table(svc errmap.Service) *dispatch.Table {
	return s.tables[svc]
}

// registry creates service sets lazily, one per namespace, and keeps them
// for the life of the server. Sets share the blob store, the lock stripes
// and the operation budget.
type registry struct {
	store    *metadata.Store
	blobs    *storage.FileSystem
	locks    *locks.Striped
	clk      clock.Clock
	cfg      *config.Config
	notifier sns.Notifier
	opts     dispatch.Options

	mu   sync.Mutex
	sets map[metadata.Namespace]*Services
}

func newRegistry(store *metadata.Store, blobs *storage.FileSystem, clk clock.Clock, cfg *config.Config,
	notifier sns.Notifier, obs dispatch.Observer) *registry {
	return &registry{
		store:    store,
		blobs:    blobs,
		locks:    locks.NewStriped(locks.DefaultStripes),
		clk:      clk,
		cfg:      cfg,
		notifier: notifier,
		opts: dispatch.Options{
			Limit:    semaphore.NewWeighted(int64(cfg.Server.MaxInFlight)),
			Observer: obs,
		},
		sets: make(map[metadata.Namespace]*Services),
	}
}

// For returns the services of account/region, creating them on first use.
// Only well-formed account ids and region names get a set.
func (r *registry) For(account, region string) (*Services, error) {
	if !config.ValidAccountID(account) {
		return nil, apierr.InvalidArgument(apierr.Resource{}, apierr.ReasonNone, "account id %q must be 12 digits", account)
	}
	if !config.ValidRegion(region) {
		return nil, apierr.InvalidArgument(apierr.Resource{}, apierr.ReasonNone, "%q is not a region name", region)
	}
	ns := metadata.Namespace{Account: account, Region: region}
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.sets[ns]; ok {
		return set, nil
	}
	cat, err := r.store.Namespace(account, region)
	if err != nil {
		return nil, err
	}

	sqsCfg := r.cfg.SQS
	set := &Services{
		Namespace: ns,
		S3:        s3.NewService(cat, r.blobs, r.locks, s3.Config{MinPartSize: r.cfg.S3.MinPartSizeBytes}),
		DynamoDB:  dynamodb.NewService(cat),
		SQS: sqs.NewService(cat, r.clk, sqs.Config{
			DefaultVisibilityTimeout: time.Duration(sqsCfg.DefaultVisibilityTimeoutSecs) * time.Second,
			DefaultRetentionPeriod:   time.Duration(sqsCfg.RetentionPeriodSecs) * time.Second,
			MaxWaitTime:              time.Duration(sqsCfg.MaxWaitTimeSecs) * time.Second,
		}),
	}
	set.SNS = sns.NewService(cat, set.SQS, r.notifier, r.clk)
	set.tables = buildTables(set, r.opts)
	r.sets[ns] = set
	return set, nil
}

// Targets lists every namespace holding data, plus the default one, for the
// maintenance worker.
func (r *registry) Targets() ([]lifecycle.Target, error) {
	namespaces, err := r.store.Namespaces()
	if err != nil {
		return nil, err
	}
	def := metadata.Namespace{Account: r.cfg.Namespace.AccountID, Region: r.cfg.Namespace.Region}
	if !containsNamespace(namespaces, def) {
		namespaces = append(namespaces, def)
	}
	targets := make([]lifecycle.Target, 0, len(namespaces))
	for _, ns := range namespaces {
		if !config.ValidAccountID(ns.Account) || !config.ValidRegion(ns.Region) {
			continue
		}
		set, err := r.For(ns.Account, ns.Region)
		if err != nil {
			return nil, err
		}
		targets = append(targets, lifecycle.Target{Namespace: ns.String(), Uploads: set.S3, Messages: set.SQS})
	}
	return targets, nil
}

func containsNamespace(list []metadata.Namespace, ns metadata.Namespace) bool {
	for _, n := range list {
		if n == ns {
			return true
		}
	}
	return false
}

func buildTables(set *Services, opts dispatch.Options) map[errmap.Service]*dispatch.Table {
	b, d, q, t := set.S3, set.DynamoDB, set.SQS, set.SNS
	return map[errmap.Service]*dispatch.Table{
		errmap.S3: dispatch.NewTable(string(errmap.S3), map[string]dispatch.HandlerFunc{
			"CreateBucket":            dispatch.Bind(b.CreateBucket),
			"DeleteBucket":            dispatch.Bind(b.DeleteBucket),
			"HeadBucket":              dispatch.Bind(b.HeadBucket),
			"ListBuckets":             dispatch.Bind(b.ListBuckets),
			"PutBucketVersioning":     dispatch.Bind(b.PutBucketVersioning),
			"GetBucketVersioning":     dispatch.Bind(b.GetBucketVersioning),
			"PutBucketPolicy":         dispatch.Bind(b.PutBucketPolicy),
			"GetBucketPolicy":         dispatch.Bind(b.GetBucketPolicy),
			"DeleteBucketPolicy":      dispatch.Bind(b.DeleteBucketPolicy),
			"PutObject":               dispatch.Bind(b.PutObject),
			"GetObject":               dispatch.Bind(b.GetObject),
			"HeadObject":              dispatch.Bind(b.HeadObject),
			"DeleteObject":            dispatch.Bind(b.DeleteObject),
			"CopyObject":              dispatch.Bind(b.CopyObject),
			"ListObjectsV2":           dispatch.Bind(b.ListObjectsV2),
			"ListObjectVersions":      dispatch.Bind(b.ListObjectVersions),
			"CreateMultipartUpload":   dispatch.Bind(b.CreateMultipartUpload),
			"UploadPart":              dispatch.Bind(b.UploadPart),
			"ListParts":               dispatch.Bind(b.ListParts),
			"ListMultipartUploads":    dispatch.Bind(b.ListMultipartUploads),
			"CompleteMultipartUpload": dispatch.Bind(b.CompleteMultipartUpload),
			"AbortMultipartUpload":    dispatch.Bind(b.AbortMultipartUpload),
		}, opts),
		errmap.DynamoDB: dispatch.NewTable(string(errmap.DynamoDB), map[string]dispatch.HandlerFunc{
			"CreateTable":   dispatch.Bind(d.CreateTable),
			"DeleteTable":   dispatch.Bind(d.DeleteTable),
			"DescribeTable": dispatch.Bind(d.DescribeTable),
			"ListTables":    dispatch.Bind(d.ListTables),
			"PutItem":       dispatch.Bind(d.PutItem),
			"GetItem":       dispatch.Bind(d.GetItem),
			"DeleteItem":    dispatch.Bind(d.DeleteItem),
			"Query":         dispatch.Bind(d.Query),
			"Scan":          dispatch.Bind(d.Scan),
		}, opts),
		errmap.SQS: dispatch.NewTable(string(errmap.SQS), map[string]dispatch.HandlerFunc{
			"CreateQueue":             dispatch.Bind(q.CreateQueue),
			"DeleteQueue":             dispatch.Bind(q.DeleteQueue),
			"ListQueues":              dispatch.Bind(q.ListQueues),
			"GetQueueUrl":             dispatch.Bind(q.GetQueueURL),
			"GetQueueAttributes":      dispatch.Bind(q.GetQueueAttributes),
			"PurgeQueue":              dispatch.Bind(q.PurgeQueue),
			"SendMessage":             dispatch.Bind(q.SendMessage),
			"ReceiveMessage":          dispatch.Bind(q.ReceiveMessage),
			"DeleteMessage":           dispatch.Bind(q.DeleteMessage),
			"ChangeMessageVisibility": dispatch.Bind(q.ChangeMessageVisibility),
		}, opts),
		errmap.SNS: dispatch.NewTable(string(errmap.SNS), map[string]dispatch.HandlerFunc{
			"CreateTopic":              dispatch.Bind(t.CreateTopic),
			"DeleteTopic":              dispatch.Bind(t.DeleteTopic),
			"ListTopics":               dispatch.Bind(t.ListTopics),
			"Subscribe":                dispatch.Bind(t.Subscribe),
			"Unsubscribe":              dispatch.Bind(t.Unsubscribe),
			"ListSubscriptionsByTopic": dispatch.Bind(t.ListSubscriptionsByTopic),
			"Publish":                  dispatch.Bind(t.Publish),
		}, opts),
	}
}

package errmap

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

func TestMap(t *testing.T) {
	bucket := apierr.Resource{Type: apierr.ResourceBucket, Name: "b1"}
	object := apierr.Resource{Type: apierr.ResourceObject, Container: "b1", Name: "k"}
	queue := apierr.Resource{Type: apierr.ResourceQueue, Name: "jobs"}
	table := apierr.Resource{Type: apierr.ResourceTable, Name: "users"}

	tests := []struct {
		name   string
		svc    Service
		err    error
		code   string
		status int
	}{
		{"s3 missing bucket", S3, apierr.NotFound(bucket, "missing"), "NoSuchBucket", http.StatusNotFound},
		{"s3 missing key", S3, apierr.NotFound(object, "missing"), "NoSuchKey", http.StatusNotFound},
		{"s3 duplicate bucket", S3, apierr.AlreadyExists(bucket, "exists"), "BucketAlreadyOwnedByYou", http.StatusConflict},
		{"s3 bucket not empty", S3, apierr.Conflict(bucket, apierr.ReasonNotEmpty, "not empty"), "BucketNotEmpty", http.StatusConflict},
		{"s3 invalid part", S3, apierr.InvalidArgument(object, apierr.ReasonInvalidPart, "gap"), "InvalidPart", http.StatusBadRequest},
		{"s3 versioning transition", S3, apierr.PreconditionFailed(bucket, apierr.ReasonVersioningTransition, "no"), "IllegalVersioningConfigurationException", http.StatusBadRequest},
		{"s3 io failure", S3, errors.New("boom"), "InternalError", http.StatusInternalServerError},
		{"dynamo missing table", DynamoDB, apierr.NotFound(table, "missing"), "ResourceNotFoundException", http.StatusBadRequest},
		{"dynamo condition", DynamoDB, apierr.Conflict(table, apierr.ReasonConditionalCheckFailed, "exists"), "ConditionalCheckFailedException", http.StatusBadRequest},
		{"sqs missing queue", SQS, apierr.NotFound(queue, "missing"), "AWS.SimpleQueueService.NonExistentQueue", http.StatusBadRequest},
		{"sqs stale handle", SQS, apierr.Conflict(queue, apierr.ReasonStaleReceiptHandle, "stale"), "ReceiptHandleIsInvalid", http.StatusBadRequest},
		{"sqs unknown action", SQS, apierr.InvalidArgument(apierr.Resource{}, apierr.ReasonUnknownOperation, "nope"), "InvalidAction", http.StatusBadRequest},
		{"s3 canceled", S3, apierr.Canceled(object, context.Canceled), "RequestTimeout", http.StatusBadRequest},
		{"dynamo canceled", DynamoDB, apierr.Canceled(table, context.Canceled), "RequestCanceled", http.StatusBadRequest},
		{"sqs canceled", SQS, apierr.Canceled(queue, context.DeadlineExceeded), "RequestCanceled", http.StatusBadRequest},
		{"sns missing topic", SNS, apierr.NotFound(apierr.Resource{Type: apierr.ResourceTopic, Name: "t"}, "missing"), "NotFound", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Map(tt.svc, tt.err)
			assert.Equal(t, tt.code, m.Code)
			assert.Equal(t, tt.status, m.Status)
		})
	}
}

func TestMapHidesInternalDetail(t *testing.T) {
	m := Map(S3, apierr.Internal(errors.New("open /var/lib/x: permission denied"), "fetch blob"))
	assert.NotContains(t, m.Message, "/var/lib")
}

func TestMapCarriesResource(t *testing.T) {
	m := Map(S3, apierr.NotFound(apierr.Resource{Type: apierr.ResourceObject, Container: "b1", Name: "a/b"}, "missing"))
	assert.Equal(t, "b1/a/b", m.Resource)
}

func TestThrottled(t *testing.T) {
	assert.Equal(t, "SlowDown", Throttled(S3).Code)
	assert.Equal(t, http.StatusServiceUnavailable, Throttled(S3).Status)
	assert.Equal(t, "ThrottlingException", Throttled(DynamoDB).Code)
	assert.Equal(t, "RequestThrottled", Throttled(SQS).Code)
	assert.Equal(t, "Throttling", Throttled(SNS).Code)
}

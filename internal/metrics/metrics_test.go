package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/storage"
)

type fakeBlobs struct{ stats storage.Stats }

func (f fakeBlobs) Stats() storage.Stats { return f.stats }

type fakeRows map[string]int

func (f fakeRows) BucketStats() (map[string]int, error) { return f, nil }

func TestCollector_Operations(t *testing.T) {
	c := NewCollector(nil, nil)
	c.ObserveOperation("s3", "PutObject", nil, 10*time.Millisecond)
	c.ObserveOperation("s3", "PutObject", nil, 20*time.Millisecond)
	c.ObserveOperation("s3", "GetObject", apierr.NotFound(apierr.Resource{}, "missing"), time.Millisecond)
	c.ObserveOperation("sqs", "SendMessage", errors.New("disk"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("s3", "PutObject", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("s3", "GetObject", "NotFound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("sqs", "SendMessage", "Internal")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.operations))

	done := c.Begin()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inFlight))
}

func TestCollector_Deliveries(t *testing.T) {
	c := NewCollector(nil, nil)
	c.ObserveDelivery("nats", true)
	c.ObserveDelivery("nats", false)
	c.ObserveDelivery("nats", true)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.notifications.WithLabelValues("nats", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("nats", "failed")))
}

func TestCollector_Throttled(t *testing.T) {
	c := NewCollector(nil, nil)
	c.ObserveThrottled("sqs")
	c.ObserveThrottled("sqs")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.throttled.WithLabelValues("sqs")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(fakeBlobs{storage.Stats{Blobs: 3, Bytes: 4096}}, fakeRows{"objects": 5})
	c.ObserveOperation("dynamodb", "PutItem", nil, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"cloudemu_blobs 3",
		"cloudemu_blob_bytes 4096",
		`cloudemu_catalog_rows{table="objects"} 5`,
		`cloudemu_operations_total{action="PutItem",outcome="ok",service="dynamodb"} 1`,
		"cloudemu_uptime_seconds",
	} {
		assert.True(t, strings.Contains(text, want), "missing %q", want)
	}
}

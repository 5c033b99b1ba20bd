package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eniz1806/CloudEmu/internal/accesslog"
	"github.com/eniz1806/CloudEmu/internal/config"
	"github.com/eniz1806/CloudEmu/internal/metadata"
	"github.com/eniz1806/CloudEmu/internal/storage"
)

func newTestServer(t *testing.T, opts ...func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.MetadataDir = filepath.Join(dir, "meta")
	cfg.Notifications.Enabled = false
	for _, opt := range opts {
		opt(cfg)
	}
	require.NoError(t, cfg.Validate())

	srv, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

type call struct {
	service, action string
	account, region string
	body            any
}

func do(t *testing.T, ts *httptest.Server, c call) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(c.body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/"+c.service, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTarget, c.action)
	if c.account != "" {
		req.Header.Set(headerAccount, c.account)
	}
	if c.region != "" {
		req.Header.Set(headerRegion, c.region)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestServer_ObjectRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)

	status, _ := do(t, ts, call{service: "s3", action: "CreateBucket", body: map[string]any{"Bucket": "photos"}})
	require.Equal(t, http.StatusOK, status)
	status, put := do(t, ts, call{service: "s3", action: "PutObject",
		body: map[string]any{"Bucket": "photos", "Key": "cat.txt", "Body": []byte("meow")}})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, put["ETag"])

	status, got := do(t, ts, call{service: "s3", action: "GetObject", body: map[string]any{"Bucket": "photos", "Key": "cat.txt"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bWVvdw==", got["Body"])

	status, errBody := do(t, ts, call{service: "s3", action: "GetObject", body: map[string]any{"Bucket": "photos", "Key": "dog.txt"}})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NoSuchKey", errBody["__type"])
}

func TestServer_Errors(t *testing.T) {
	_, ts := newTestServer(t)

	status, body := do(t, ts, call{service: "dynamodb", action: "DynamoDB_20120810.Explode", body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UnknownOperationException", body["__type"])

	status, body = do(t, ts, call{service: "sqs", action: "SendMessage", body: map[string]any{"QueueName": "nope", "MessageBody": "x"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "AWS.SimpleQueueService.NonExistentQueue", body["__type"])

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/s3", strings.NewReader(`{"Bucket":`))
	req.Header.Set(headerTarget, "CreateBucket")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/lambda", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_DescribeService(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/sqs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out describeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "sqs", out.Service)
	assert.Contains(t, out.Actions, "SendMessage")
	assert.Contains(t, out.Actions, "ChangeMessageVisibility")
	assert.IsIncreasing(t, out.Actions)

	resp, err = http.Get(ts.URL + "/lambda")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ActionQueryParameter(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/sqs?Action=CreateQueue", "application/json", strings.NewReader(`{"QueueName":"jobs"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "/000000000000/jobs", out["QueueUrl"])
}

func TestServer_NamespacesAreIsolated(t *testing.T) {
	_, ts := newTestServer(t)

	status, _ := do(t, ts, call{service: "dynamodb", action: "CreateTable", account: "111111111111", body: map[string]any{
		"TableName":            "users",
		"KeySchema":            []map[string]string{{"AttributeName": "id", "KeyType": "HASH"}},
		"AttributeDefinitions": []map[string]string{{"AttributeName": "id", "AttributeType": "S"}},
	}})
	require.Equal(t, http.StatusOK, status)

	_, mine := do(t, ts, call{service: "dynamodb", action: "ListTables", account: "111111111111", body: map[string]any{}})
	_, theirs := do(t, ts, call{service: "dynamodb", action: "ListTables", account: "222222222222", body: map[string]any{}})
	assert.Equal(t, []any{"users"}, mine["TableNames"])
	assert.Empty(t, theirs["TableNames"])
}

func TestServer_RejectsMalformedNamespace(t *testing.T) {
	srv, ts := newTestServer(t)

	status, _ := do(t, ts, call{service: "sqs", action: "ListQueues", body: map[string]any{}})
	require.Equal(t, http.StatusOK, status)

	bad := []call{
		{service: "sqs", action: "ListQueues", account: "not-an-account"},
		{service: "sqs", action: "ListQueues", account: "1234"},
		{service: "dynamodb", action: "ListTables", region: "Mars"},
		{service: "s3", action: "ListBuckets", account: "111111111111", region: "us-east-1/x"},
	}
	for _, c := range bad {
		c.body = map[string]any{}
		status, body := do(t, ts, c)
		assert.Equal(t, http.StatusBadRequest, status, "%s/%s", c.account, c.region)
		assert.NotEqual(t, "InternalError", body["__type"])
	}

	srv.registry.mu.Lock()
	defer srv.registry.mu.Unlock()
	assert.Len(t, srv.registry.sets, 1, "malformed headers must not create service sets")
}

func TestServer_PublishToQueue(t *testing.T) {
	_, ts := newTestServer(t)

	do(t, ts, call{service: "sqs", action: "CreateQueue", body: map[string]any{"QueueName": "inbox"}})
	_, topic := do(t, ts, call{service: "sns", action: "CreateTopic", body: map[string]any{"Name": "alerts"}})
	status, _ := do(t, ts, call{service: "sns", action: "Subscribe",
		body: map[string]any{"TopicArn": topic["TopicArn"], "Protocol": "sqs", "Endpoint": "inbox"}})
	require.Equal(t, http.StatusOK, status)
	status, _ = do(t, ts, call{service: "sns", action: "Publish", body: map[string]any{"TopicName": "alerts", "Message": "disk full"}})
	require.Equal(t, http.StatusOK, status)

	_, got := do(t, ts, call{service: "sqs", action: "ReceiveMessage", body: map[string]any{"QueueName": "inbox"}})
	msgs, _ := got["Messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].(map[string]any)["Body"], "disk full")
}

func TestServer_HealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)
	do(t, ts, call{service: "s3", action: "ListBuckets", body: map[string]any{}})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `cloudemu_operations_total{action="ListBuckets",outcome="ok",service="s3"} 1`)
}

func TestReconcile_RemovesOrphans(t *testing.T) {
	dir := t.TempDir()
	blobs, err := storage.NewFileSystem(filepath.Join(dir, "data"))
	require.NoError(t, err)
	orphan, err := blobs.Put(t.Context(), strings.NewReader("orphaned bytes"))
	require.NoError(t, err)

	store, err := metadata.NewStore(filepath.Join(dir, "catalog.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, Reconcile(store, blobs))
	assert.False(t, blobs.Exists(orphan.Hash))
	assert.Equal(t, int64(0), blobs.Stats().Blobs)
}

func TestServer_RateLimited(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, AccountRPS: 0.001, AccountBurst: 2}
	})

	for i := 0; i < 2; i++ {
		status, _ := do(t, ts, call{service: "sqs", action: "ListQueues", body: map[string]any{}})
		require.Equal(t, http.StatusOK, status)
	}
	status, body := do(t, ts, call{service: "sqs", action: "ListQueues", body: map[string]any{}})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "RequestThrottled", body["__type"])

	status, _ = do(t, ts, call{service: "sqs", action: "ListQueues", account: "111111111111", body: map[string]any{}})
	assert.Equal(t, http.StatusOK, status, "other accounts keep their own budget")
}

func TestServer_AccessLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	_, ts := newTestServer(t, func(cfg *config.Config) { cfg.Logging.AccessLog = path })

	status, _ := do(t, ts, call{service: "sns", action: "CreateTopic", body: map[string]any{"Name": "events"}})
	require.Equal(t, http.StatusOK, status)

	var data []byte
	require.Eventually(t, func() bool {
		data, _ = os.ReadFile(path)
		return len(data) > 0
	}, 2*time.Second, 5*time.Millisecond)
	var entry accesslog.AccessEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "CreateTopic", entry.Action)
	assert.Equal(t, "000000000000", entry.Account)
	assert.Equal(t, "/sns", entry.Path)
	assert.Equal(t, http.StatusOK, entry.Status)
	assert.NotEmpty(t, entry.RequestID)
}

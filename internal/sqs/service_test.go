package sqs

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/clock"
	"github.com/eniz1806/CloudEmu/internal/metadata"
)

func newTestService(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store, err := metadata.NewStore(filepath.Join(t.TempDir(), "catalog.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cat, err := store.Namespace("000000000000", "us-east-1")
	require.NoError(t, err)
	s := NewService(cat, clk, Config{})
	_, err = s.CreateQueue(context.Background(), CreateQueueInput{QueueName: "jobs"})
	require.NoError(t, err)
	return s, clk
}

func send(t *testing.T, s *Service, body string) {
	t.Helper()
	_, err := s.SendMessage(context.Background(), SendMessageInput{QueueName: "jobs", MessageBody: body})
	require.NoError(t, err)
}

// receiveAsync runs a long-poll receive and waits until it is parked on the
// clock before returning.
func receiveAsync(t *testing.T, ctx context.Context, s *Service, clk *clock.Fake, wait int) <-chan ReceiveMessageOutput {
	t.Helper()
	before := clk.Waiters()
	out := make(chan ReceiveMessageOutput, 1)
	go func() {
		res, err := s.ReceiveMessage(ctx, ReceiveMessageInput{QueueName: "jobs", WaitTimeSeconds: wait})
		assert.NoError(t, err)
		out <- res
	}()
	require.Eventually(t, func() bool { return clk.Waiters() > before }, 2*time.Second, time.Millisecond)
	return out
}

func await(t *testing.T, ch <-chan ReceiveMessageOutput) ReceiveMessageOutput {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return")
		return ReceiveMessageOutput{}
	}
}

func TestService_QueueAttributes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	out, err := s.CreateQueue(ctx, CreateQueueInput{QueueName: "jobs"})
	require.NoError(t, err, "identical create is idempotent")
	assert.Equal(t, "/000000000000/jobs", out.QueueURL)

	_, err = s.CreateQueue(ctx, CreateQueueInput{QueueName: "jobs", Attributes: map[string]string{AttrVisibilityTimeout: "60"}})
	assert.True(t, apierr.Is(err, apierr.KindAlreadyExists))

	_, err = s.CreateQueue(ctx, CreateQueueInput{QueueName: "slow", Attributes: map[string]string{AttrVisibilityTimeout: "43201"}})
	assert.True(t, apierr.Is(err, apierr.KindInvalidArgument))
	_, err = s.CreateQueue(ctx, CreateQueueInput{QueueName: "bad name"})
	assert.True(t, apierr.IsReason(err, apierr.ReasonInvalidName))

	send(t, s, "a")
	send(t, s, "b")
	_, err = s.ReceiveMessage(ctx, ReceiveMessageInput{QueueURL: out.QueueURL})
	require.NoError(t, err)

	attrs, err := s.GetQueueAttributes(ctx, GetQueueAttributesInput{QueueName: "jobs"})
	require.NoError(t, err)
	assert.Equal(t, "30", attrs.Attributes[AttrVisibilityTimeout])
	assert.Equal(t, "1", attrs.Attributes[AttrApproximateMessages])
	assert.Equal(t, "1", attrs.Attributes[AttrApproximateNotVisible])

	list, err := s.ListQueues(ctx, ListQueuesInput{QueueNamePrefix: "jo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/000000000000/jobs"}, list.QueueURLs)

	purged, err := s.PurgeQueue(ctx, PurgeQueueInput{QueueName: "jobs"})
	require.NoError(t, err)
	assert.Equal(t, 2, purged.Purged)

	_, err = s.DeleteQueue(ctx, DeleteQueueInput{QueueName: "jobs"})
	require.NoError(t, err)
	_, err = s.GetQueueURL(ctx, GetQueueURLInput{QueueName: "jobs"})
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}

func TestService_SendValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	_, err := s.SendMessage(ctx, SendMessageInput{QueueName: "jobs"})
	assert.True(t, apierr.Is(err, apierr.KindInvalidArgument), "empty body")
	_, err = s.SendMessage(ctx, SendMessageInput{QueueName: "jobs", MessageBody: strings.Repeat("x", MaxBodySize+1)})
	assert.True(t, apierr.Is(err, apierr.KindInvalidArgument), "oversized body")
	_, err = s.SendMessage(ctx, SendMessageInput{QueueName: "jobs", MessageBody: "x", DelaySeconds: 901})
	assert.True(t, apierr.Is(err, apierr.KindInvalidArgument))
	_, err = s.SendMessage(ctx, SendMessageInput{QueueName: "missing", MessageBody: "x"})
	assert.True(t, apierr.Is(err, apierr.KindNotFound))

	_, err = s.ReceiveMessage(ctx, ReceiveMessageInput{QueueName: "jobs", MaxNumberOfMessages: 11})
	assert.True(t, apierr.Is(err, apierr.KindInvalidArgument))
	_, err = s.ReceiveMessage(ctx, ReceiveMessageInput{QueueName: "jobs", WaitTimeSeconds: 21})
	assert.True(t, apierr.Is(err, apierr.KindInvalidArgument))
}

func TestService_AtLeastOnceDelivery(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestService(t)
	send(t, s, "payload")

	first, err := s.ReceiveMessage(ctx, ReceiveMessageInput{QueueName: "jobs"})
	require.NoError(t, err)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, "1", first.Messages[0].Attributes[AttrApproximateReceiveCount])

	empty, err := s.ReceiveMessage(ctx, ReceiveMessageInput{QueueName: "jobs"})
	require.NoError(t, err)
	assert.Empty(t, empty.Messages)

	clk.Advance(31 * time.Second)
	second, err := s.ReceiveMessage(ctx, ReceiveMessageInput{QueueName: "jobs"})
	require.NoError(t, err)
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "2", second.Messages[0].Attributes[AttrApproximateReceiveCount])

	_, err = s.DeleteMessage(ctx, DeleteMessageInput{QueueName: "jobs", ReceiptHandle: first.Messages[0].ReceiptHandle})
	assert.True(t, apierr.IsReason(err, apierr.ReasonStaleReceiptHandle))
	_, err = s.DeleteMessage(ctx, DeleteMessageInput{QueueName: "jobs", ReceiptHandle: "not-a-handle"})
	assert.True(t, apierr.IsReason(err, apierr.ReasonInvalidReceiptHandle))
	_, err = s.DeleteMessage(ctx, DeleteMessageInput{QueueName: "jobs", ReceiptHandle: second.Messages[0].ReceiptHandle})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	gone, err := s.ReceiveMessage(ctx, ReceiveMessageInput{QueueName: "jobs"})
	require.NoError(t, err)
	assert.Empty(t, gone.Messages)
}

func TestService_LongPollWakesOnSend(t *testing.T) {
	s, clk := newTestService(t)
	ch := receiveAsync(t, context.Background(), s, clk, 20)

	send(t, s, "hello")
	res := await(t, ch)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "hello", res.Messages[0].Body)
}

func TestService_LongPollExpires(t *testing.T) {
	s, clk := newTestService(t)
	ch := receiveAsync(t, context.Background(), s, clk, 5)

	clk.Advance(5 * time.Second)
	res := await(t, ch)
	assert.Empty(t, res.Messages)
}

func TestService_LongPollCancelled(t *testing.T) {
	s, clk := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch := receiveAsync(t, ctx, s, clk, 20)

	cancel()
	res := await(t, ch)
	assert.Empty(t, res.Messages)
}

func TestService_LongPollWakesOnVisibility(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestService(t)
	send(t, s, "retry me")
	ten := 10
	_, err := s.ReceiveMessage(ctx, ReceiveMessageInput{QueueName: "jobs", VisibilityTimeout: &ten})
	require.NoError(t, err)

	ch := receiveAsync(t, ctx, s, clk, 20)
	clk.Advance(10 * time.Second)
	res := await(t, ch)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "2", res.Messages[0].Attributes[AttrApproximateReceiveCount])
}

func TestService_ChangeVisibility(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestService(t)
	send(t, s, "payload")
	first, err := s.ReceiveMessage(ctx, ReceiveMessageInput{QueueName: "jobs"})
	require.NoError(t, err)
	require.Len(t, first.Messages, 1)

	ch := receiveAsync(t, ctx, s, clk, 20)
	_, err = s.ChangeMessageVisibility(ctx, ChangeMessageVisibilityInput{QueueName: "jobs",
		ReceiptHandle: first.Messages[0].ReceiptHandle, VisibilityTimeout: 0})
	require.NoError(t, err)
	res := await(t, ch)
	require.Len(t, res.Messages, 1)

	_, err = s.ChangeMessageVisibility(ctx, ChangeMessageVisibilityInput{QueueName: "jobs",
		ReceiptHandle: first.Messages[0].ReceiptHandle, VisibilityTimeout: 60})
	assert.True(t, apierr.IsReason(err, apierr.ReasonStaleReceiptHandle))
}

package metadata

import (
	"testing"
	"time"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

func newTestQueue(t *testing.T, c *Catalog, name string) Queue {
	t.Helper()
	q, err := c.CreateQueue(Queue{Name: name, VisibilityTimeout: 30 * time.Second, RetentionPeriod: 4 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	return q
}

func TestQueues_CreateIdempotent(t *testing.T) {
	c, _ := newTestCatalog(t)
	first := newTestQueue(t, c, "jobs")
	again := newTestQueue(t, c, "jobs")
	if !again.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("identical create should return the existing queue")
	}
	_, err := c.CreateQueue(Queue{Name: "jobs", VisibilityTimeout: time.Minute})
	if !apierr.Is(err, apierr.KindAlreadyExists) {
		t.Errorf("expected AlreadyExists for differing attributes, got %v", err)
	}

	newTestQueue(t, c, "jobs-dlq")
	newTestQueue(t, c, "other")
	qs, _ := c.ListQueues("jobs")
	if len(qs) != 2 {
		t.Errorf("expected 2 queues with prefix jobs, got %d", len(qs))
	}
}

func TestQueues_VisibilityTimeout(t *testing.T) {
	c, clk := newTestCatalog(t)
	newTestQueue(t, c, "jobs")

	sent, err := c.SendMessage("jobs", "payload", nil, 0)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	first, err := c.ReceiveMessages("jobs", 10, -1)
	if err != nil {
		t.Fatalf("ReceiveMessages: %v", err)
	}
	if len(first.Messages) != 1 || first.Messages[0].ID != sent.ID || first.Messages[0].DeliveryCount != 1 {
		t.Fatalf("unexpected first delivery %+v", first.Messages)
	}
	if want := clk.Now().Add(30 * time.Second); !first.NextVisible.Equal(want) {
		t.Errorf("NextVisible = %v, want %v", first.NextVisible, want)
	}

	clk.Advance(10 * time.Second)
	hidden, _ := c.ReceiveMessages("jobs", 10, -1)
	if len(hidden.Messages) != 0 {
		t.Fatalf("message should be invisible inside its timeout")
	}

	clk.Advance(25 * time.Second)
	second, _ := c.ReceiveMessages("jobs", 10, -1)
	if len(second.Messages) != 1 || second.Messages[0].DeliveryCount != 2 {
		t.Fatalf("expected redelivery with count 2, got %+v", second.Messages)
	}

	staleHandle := first.Messages[0].ReceiptHandle()
	currentHandle := second.Messages[0].ReceiptHandle()
	if staleHandle == currentHandle {
		t.Fatal("each delivery must issue a fresh receipt handle")
	}

	if err := c.DeleteMessage("jobs", staleHandle); !apierr.IsReason(err, apierr.ReasonStaleReceiptHandle) {
		t.Errorf("expected StaleReceiptHandle, got %v", err)
	}
	if err := c.DeleteMessage("jobs", currentHandle); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if err := c.DeleteMessage("jobs", currentHandle); !apierr.IsReason(err, apierr.ReasonStaleReceiptHandle) {
		t.Errorf("deleting twice should be stale, got %v", err)
	}
	if err := c.DeleteMessage("jobs", "garbage"); !apierr.IsReason(err, apierr.ReasonInvalidReceiptHandle) {
		t.Errorf("expected InvalidReceiptHandle, got %v", err)
	}
}

func TestQueues_ChangeVisibility(t *testing.T) {
	c, clk := newTestCatalog(t)
	newTestQueue(t, c, "jobs")
	c.SendMessage("jobs", "payload", nil, 0)

	res, _ := c.ReceiveMessages("jobs", 1, time.Hour)
	handle := res.Messages[0].ReceiptHandle()

	if _, err := c.ChangeMessageVisibility("jobs", handle, 0); err != nil {
		t.Fatalf("ChangeMessageVisibility: %v", err)
	}
	again, _ := c.ReceiveMessages("jobs", 1, time.Hour)
	if len(again.Messages) != 1 {
		t.Fatal("zero visibility should make the message receivable again")
	}

	if _, err := c.ChangeMessageVisibility("jobs", handle, time.Minute); !apierr.IsReason(err, apierr.ReasonStaleReceiptHandle) {
		t.Errorf("superseded handle should be stale, got %v", err)
	}

	clk.Advance(time.Minute)
	st, _ := c.QueueStats("jobs")
	if st.InFlight != 1 || st.Visible != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestQueues_DelayAndOrder(t *testing.T) {
	c, clk := newTestCatalog(t)
	newTestQueue(t, c, "jobs")
	c.SendMessage("jobs", "later", nil, time.Minute)
	c.SendMessage("jobs", "one", nil, 0)
	c.SendMessage("jobs", "two", nil, 0)

	res, _ := c.ReceiveMessages("jobs", 10, -1)
	if len(res.Messages) != 2 || res.Messages[0].Body != "one" || res.Messages[1].Body != "two" {
		t.Fatalf("unexpected delivery %+v", res.Messages)
	}
	if want := clk.Now().Add(30 * time.Second); !res.NextVisible.Equal(want) {
		t.Errorf("NextVisible = %v, want %v", res.NextVisible, want)
	}

	st, _ := c.QueueStats("jobs")
	if st.Delayed != 1 || st.InFlight != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestQueues_PurgePruneDelete(t *testing.T) {
	c, clk := newTestCatalog(t)
	c.CreateQueue(Queue{Name: "short", RetentionPeriod: time.Hour})
	c.SendMessage("short", "old", nil, 0)
	clk.Advance(2 * time.Hour)
	c.SendMessage("short", "new", nil, 0)

	n, err := c.PruneExpiredMessages()
	if err != nil || n != 1 {
		t.Fatalf("PruneExpiredMessages = %d %v", n, err)
	}

	n, err = c.PurgeQueue("short")
	if err != nil || n != 1 {
		t.Fatalf("PurgeQueue = %d %v", n, err)
	}

	if err := c.DeleteQueue("short"); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	if _, err := c.SendMessage("short", "x", nil, 0); !apierr.Is(err, apierr.KindNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
}

package metadata

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

type Queue struct {
	Name              string        `json:"name"`
	VisibilityTimeout time.Duration `json:"visibility_timeout"`
	RetentionPeriod   time.Duration `json:"retention_period"`
	CreatedAt         time.Time     `json:"created_at"`
}

type Message struct {
	Queue         string    `json:"queue"`
	Seq           uint64    `json:"seq"`
	ID            string    `json:"id"`
	Body          string    `json:"body"`
	Attributes    Item      `json:"attributes,omitempty"`
	SentAt        time.Time `json:"sent_at"`
	VisibleAt     time.Time `json:"visible_at"`
	DeliveryCount int       `json:"delivery_count"`
	FirstReceived time.Time `json:"first_received,omitempty"`

	// Nonce identifies the current delivery. It is replaced on every
	// receive, which invalidates receipt handles from earlier deliveries.
	Nonce uuid.UUID `json:"nonce,omitempty"`
}

// ReceiptHandle encodes the message sequence and the current delivery nonce.
func (m Message) ReceiptHandle() string {
	buf := make([]byte, 8+16)
	binary.BigEndian.PutUint64(buf, m.Seq)
	copy(buf[8:], m.Nonce[:])
	return base64.RawURLEncoding.EncodeToString(buf)
}

func decodeReceiptHandle(queue, handle string) (uint64, uuid.UUID, error) {
	buf, err := base64.RawURLEncoding.DecodeString(handle)
	if err != nil || len(buf) != 8+16 {
		return 0, uuid.Nil, apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceMessage, Container: queue},
			apierr.ReasonInvalidReceiptHandle, "receipt handle is malformed")
	}
	var nonce uuid.UUID
	copy(nonce[:], buf[8:])
	return binary.BigEndian.Uint64(buf), nonce, nil
}

func queueResource(name string) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceQueue, Name: name}
}

func staleHandle(queue string) error {
	return apierr.Conflict(apierr.Resource{Type: apierr.ResourceMessage, Container: queue},
		apierr.ReasonStaleReceiptHandle, "receipt handle is not the current delivery")
}

func (c *Catalog) getQueue(tx *bolt.Tx, name string) (Queue, error) {
	var q Queue
	ok, err := getJSON(tx.Bucket(queuesBucket), c.key(name), &q)
	if err != nil {
		return q, err
	}
	if !ok {
		return q, apierr.NotFound(queueResource(name), "queue does not exist")
	}
	return q, nil
}

func (c *Catalog) messageKey(queue string, seq uint64) []byte {
	return append(c.scope(queue), seqKey(seq)...)
}

// CreateQueue creates q. Creating an existing queue with identical
// attributes returns the existing queue; differing attributes fail with
// AlreadyExists.
func (c *Catalog) CreateQueue(q Queue) (Queue, error) {
	err := c.update(func(tx *bolt.Tx) error {
		qb := tx.Bucket(queuesBucket)
		var existing Queue
		ok, err := getJSON(qb, c.key(q.Name), &existing)
		if err != nil {
			return err
		}
		if ok {
			if existing.VisibilityTimeout != q.VisibilityTimeout || existing.RetentionPeriod != q.RetentionPeriod {
				return apierr.AlreadyExists(queueResource(q.Name), "queue exists with different attributes")
			}
			q = existing
			return nil
		}
		q.CreatedAt = c.store.now()
		return putJSON(qb, c.key(q.Name), q)
	})
	return q, err
}

func (c *Catalog) GetQueue(name string) (Queue, error) {
	var q Queue
	err := c.view(func(tx *bolt.Tx) error {
		var err error
		q, err = c.getQueue(tx, name)
		return err
	})
	return q, err
}

// ListQueues returns queues whose name begins with prefix.
func (c *Catalog) ListQueues(prefix string) ([]Queue, error) {
	var queues []Queue
	err := c.view(func(tx *bolt.Tx) error {
		return forEachPrefix(tx.Bucket(queuesBucket), c.key(prefix), func(_, v []byte) (bool, error) {
			var q Queue
			if err := json.Unmarshal(v, &q); err != nil {
				return false, err
			}
			queues = append(queues, q)
			return true, nil
		})
	})
	return queues, err
}

// DeleteQueue removes the queue and every message in it.
func (c *Catalog) DeleteQueue(name string) error {
	return c.update(func(tx *bolt.Tx) error {
		if _, err := c.getQueue(tx, name); err != nil {
			return err
		}
		if _, err := deletePrefix(tx.Bucket(messagesBucket), c.scope(name)); err != nil {
			return err
		}
		return tx.Bucket(queuesBucket).Delete(c.key(name))
	})
}

// PurgeQueue deletes every message and returns how many were removed.
func (c *Catalog) PurgeQueue(name string) (int, error) {
	var n int
	err := c.update(func(tx *bolt.Tx) error {
		if _, err := c.getQueue(tx, name); err != nil {
			return err
		}
		var err error
		n, err = deletePrefix(tx.Bucket(messagesBucket), c.scope(name))
		return err
	})
	return n, err
}

// SendMessage enqueues body. The message becomes visible after delay.
func (c *Catalog) SendMessage(queue, body string, attrs Item, delay time.Duration) (Message, error) {
	var m Message
	err := c.update(func(tx *bolt.Tx) error {
		if _, err := c.getQueue(tx, queue); err != nil {
			return err
		}
		mb := tx.Bucket(messagesBucket)
		seq, err := mb.NextSequence()
		if err != nil {
			return err
		}
		now := c.store.now()
		m = Message{
			Queue:      queue,
			Seq:        seq,
			ID:         uuid.NewString(),
			Body:       body,
			Attributes: attrs,
			SentAt:     now,
			VisibleAt:  now.Add(delay),
		}
		return putJSON(mb, c.messageKey(queue, seq), m)
	})
	return m, err
}

// ReceiveResult carries the deliveries of one receive call. NextVisible is
// the earliest future instant at which another message becomes visible, or
// zero if none is pending.
type ReceiveResult struct {
	Messages    []Message
	NextVisible time.Time
}

// ReceiveMessages delivers up to maxMessages visible messages in send order. Each
// delivery hides the message for visibility, increments its delivery count
// and issues a fresh receipt handle. A negative visibility uses the queue
// default.
func (c *Catalog) ReceiveMessages(queue string, maxMessages int, visibility time.Duration) (ReceiveResult, error) {
	var res ReceiveResult
	err := c.update(func(tx *bolt.Tx) error {
		q, err := c.getQueue(tx, queue)
		if err != nil {
			return err
		}
		if visibility < 0 {
			visibility = q.VisibilityTimeout
		}
		now := c.store.now()
		mb := tx.Bucket(messagesBucket)
		scope := c.scope(queue)

		var delivered []Message
		cur := mb.Cursor()
		for k, v := cur.Seek(scope); k != nil && bytes.HasPrefix(k, scope); k, v = cur.Next() {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.VisibleAt.After(now) {
				if res.NextVisible.IsZero() || m.VisibleAt.Before(res.NextVisible) {
					res.NextVisible = m.VisibleAt
				}
				continue
			}
			if len(delivered) == maxMessages {
				continue
			}
			delivered = append(delivered, m)
		}

		for _, m := range delivered {
			m.VisibleAt = now.Add(visibility)
			m.DeliveryCount++
			m.Nonce = uuid.New()
			if m.FirstReceived.IsZero() {
				m.FirstReceived = now
			}
			if err := putJSON(mb, c.messageKey(queue, m.Seq), m); err != nil {
				return err
			}
			if visibility > 0 && (res.NextVisible.IsZero() || m.VisibleAt.Before(res.NextVisible)) {
				res.NextVisible = m.VisibleAt
			}
			res.Messages = append(res.Messages, m)
		}
		return nil
	})
	return res, err
}

// currentDelivery loads the message named by handle and verifies the handle
// belongs to its latest delivery.
func (c *Catalog) currentDelivery(tx *bolt.Tx, queue, handle string) (Message, error) {
	var m Message
	if _, err := c.getQueue(tx, queue); err != nil {
		return m, err
	}
	seq, nonce, err := decodeReceiptHandle(queue, handle)
	if err != nil {
		return m, err
	}
	ok, err := getJSON(tx.Bucket(messagesBucket), c.messageKey(queue, seq), &m)
	if err != nil {
		return m, err
	}
	if !ok || m.Nonce != nonce || m.Nonce == uuid.Nil {
		return m, staleHandle(queue)
	}
	return m, nil
}

// DeleteMessage removes the message if handle is its current receipt handle.
func (c *Catalog) DeleteMessage(queue, handle string) error {
	return c.update(func(tx *bolt.Tx) error {
		m, err := c.currentDelivery(tx, queue, handle)
		if err != nil {
			return err
		}
		return tx.Bucket(messagesBucket).Delete(c.messageKey(queue, m.Seq))
	})
}

// ChangeMessageVisibility resets the visibility window of the current
// delivery to end timeout from now. The receipt handle stays valid.
func (c *Catalog) ChangeMessageVisibility(queue, handle string, timeout time.Duration) (Message, error) {
	var m Message
	err := c.update(func(tx *bolt.Tx) error {
		var err error
		if m, err = c.currentDelivery(tx, queue, handle); err != nil {
			return err
		}
		m.VisibleAt = c.store.now().Add(timeout)
		return putJSON(tx.Bucket(messagesBucket), c.messageKey(queue, m.Seq), m)
	})
	return m, err
}

// QueueStats counts messages by visibility at the current instant.
type QueueStats struct {
	Visible  int
	InFlight int
	Delayed  int
}

func (c *Catalog) QueueStats(queue string) (QueueStats, error) {
	var st QueueStats
	err := c.view(func(tx *bolt.Tx) error {
		if _, err := c.getQueue(tx, queue); err != nil {
			return err
		}
		now := c.store.now()
		return forEachPrefix(tx.Bucket(messagesBucket), c.scope(queue), func(_, v []byte) (bool, error) {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				return false, err
			}
			switch {
			case !m.VisibleAt.After(now):
				st.Visible++
			case m.DeliveryCount > 0:
				st.InFlight++
			default:
				st.Delayed++
			}
			return true, nil
		})
	})
	return st, err
}

// PruneExpiredMessages deletes messages older than their queue's retention
// period and returns how many were removed.
func (c *Catalog) PruneExpiredMessages() (int, error) {
	var n int
	err := c.update(func(tx *bolt.Tx) error {
		now := c.store.now()
		mb := tx.Bucket(messagesBucket)
		var expired [][]byte
		err := forEachPrefix(tx.Bucket(queuesBucket), c.prefix, func(_, v []byte) (bool, error) {
			var q Queue
			if err := json.Unmarshal(v, &q); err != nil {
				return false, err
			}
			if q.RetentionPeriod <= 0 {
				return true, nil
			}
			cutoff := now.Add(-q.RetentionPeriod)
			return true, forEachPrefix(mb, c.scope(q.Name), func(k, v []byte) (bool, error) {
				var m Message
				if err := json.Unmarshal(v, &m); err != nil {
					return false, err
				}
				// Send order is retention order, so the first young message ends the scan.
				if !m.SentAt.Before(cutoff) {
					return false, nil
				}
				expired = append(expired, append([]byte(nil), k...))
				return true, nil
			})
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := mb.Delete(k); err != nil {
				return err
			}
		}
		n = len(expired)
		return nil
	})
	return n, err
}

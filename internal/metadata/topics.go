package metadata

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

type Topic struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription binds a delivery endpoint to a topic. ID has the form
// "{topic}:{uuid}".
type Subscription struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Protocol  string    `json:"protocol"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`
}

func topicResource(name string) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceTopic, Name: name}
}

func (c *Catalog) getTopic(tx *bolt.Tx, name string) (Topic, error) {
	var t Topic
	ok, err := getJSON(tx.Bucket(topicsBucket), c.key(name), &t)
	if err != nil {
		return t, err
	}
	if !ok {
		return t, apierr.NotFound(topicResource(name), "topic does not exist")
	}
	return t, nil
}

func (c *Catalog) subscriptions(tx *bolt.Tx, topic string) ([]Subscription, error) {
	var subs []Subscription
	err := forEachPrefix(tx.Bucket(subscriptionsBucket), c.scope(topic), func(_, v []byte) (bool, error) {
		var s Subscription
		if err := json.Unmarshal(v, &s); err != nil {
			return false, err
		}
		subs = append(subs, s)
		return true, nil
	})
	return subs, err
}

// CreateTopic creates the topic or returns the existing one.
func (c *Catalog) CreateTopic(name string) (Topic, error) {
	var t Topic
	err := c.update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(topicsBucket)
		ok, err := getJSON(tb, c.key(name), &t)
		if err != nil || ok {
			return err
		}
		t = Topic{Name: name, CreatedAt: c.store.now()}
		return putJSON(tb, c.key(name), t)
	})
	return t, err
}

func (c *Catalog) GetTopic(name string) (Topic, error) {
	var t Topic
	err := c.view(func(tx *bolt.Tx) error {
		var err error
		t, err = c.getTopic(tx, name)
		return err
	})
	return t, err
}

func (c *Catalog) ListTopics() ([]Topic, error) {
	var topics []Topic
	err := c.view(func(tx *bolt.Tx) error {
		return forEachPrefix(tx.Bucket(topicsBucket), c.prefix, func(_, v []byte) (bool, error) {
			var t Topic
			if err := json.Unmarshal(v, &t); err != nil {
				return false, err
			}
			topics = append(topics, t)
			return true, nil
		})
	})
	return topics, err
}

// DeleteTopic removes the topic together with its subscriptions.
func (c *Catalog) DeleteTopic(name string) error {
	return c.update(func(tx *bolt.Tx) error {
		if _, err := c.getTopic(tx, name); err != nil {
			return err
		}
		if _, err := deletePrefix(tx.Bucket(subscriptionsBucket), c.scope(name)); err != nil {
			return err
		}
		return tx.Bucket(topicsBucket).Delete(c.key(name))
	})
}

// Subscribe attaches protocol/endpoint to topic. An identical existing
// subscription is returned unchanged.
func (c *Catalog) Subscribe(topic, protocol, endpoint string) (Subscription, error) {
	var sub Subscription
	err := c.update(func(tx *bolt.Tx) error {
		if _, err := c.getTopic(tx, topic); err != nil {
			return err
		}
		subs, err := c.subscriptions(tx, topic)
		if err != nil {
			return err
		}
		for _, s := range subs {
			if s.Protocol == protocol && s.Endpoint == endpoint {
				sub = s
				return nil
			}
		}
		id := uuid.NewString()
		sub = Subscription{
			ID:        topic + ":" + id,
			Topic:     topic,
			Protocol:  protocol,
			Endpoint:  endpoint,
			CreatedAt: c.store.now(),
		}
		return putJSON(tx.Bucket(subscriptionsBucket), c.key(topic, id), sub)
	})
	return sub, err
}

// Unsubscribe removes the subscription with the given ID.
func (c *Catalog) Unsubscribe(id string) error {
	topic, sid, ok := strings.Cut(id, ":")
	res := apierr.Resource{Type: apierr.ResourceSubscription, Container: topic, Name: sid}
	if !ok || topic == "" || sid == "" {
		return apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "malformed subscription id %q", id)
	}
	return c.update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(subscriptionsBucket)
		if sb.Get(c.key(topic, sid)) == nil {
			return apierr.NotFound(res, "subscription does not exist")
		}
		return sb.Delete(c.key(topic, sid))
	})
}

// ListSubscriptions returns the subscriptions of topic.
func (c *Catalog) ListSubscriptions(topic string) ([]Subscription, error) {
	var subs []Subscription
	err := c.view(func(tx *bolt.Tx) error {
		if _, err := c.getTopic(tx, topic); err != nil {
			return err
		}
		var err error
		subs, err = c.subscriptions(tx, topic)
		return err
	})
	return subs, err
}

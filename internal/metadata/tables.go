package metadata

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

type KeyAttribute struct {
	Name string  `json:"name"`
	Type KeyType `json:"type"`
}

type Table struct {
	Name      string        `json:"name"`
	HashKey   KeyAttribute  `json:"hash_key"`
	RangeKey  *KeyAttribute `json:"range_key,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func tableResource(name string) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceTable, Name: name}
}

// Key extracts the primary key attributes of item.
func (t Table) Key(item Item) (Item, error) {
	key := Item{}
	attrs := []KeyAttribute{t.HashKey}
	if t.RangeKey != nil {
		attrs = append(attrs, *t.RangeKey)
	}
	for _, a := range attrs {
		v, ok := item[a.Name]
		if !ok {
			return nil, apierr.InvalidArgument(tableResource(t.Name), apierr.ReasonMalformedInput,
				"missing key attribute %q", a.Name)
		}
		if v.Type() != a.Type {
			return nil, apierr.InvalidArgument(tableResource(t.Name), apierr.ReasonMalformedInput,
				"key attribute %q must be of type %s", a.Name, a.Type)
		}
		key[a.Name] = v
	}
	return key, nil
}

// encodeKey renders the primary key of item as the row key suffix
// "{hash}\x00{range}".
func (t Table) encodeKey(item Item) (string, error) {
	key, err := t.Key(item)
	if err != nil {
		return "", err
	}
	h, err := encodeKeyValue(key[t.HashKey.Name])
	if err != nil {
		return "", apierr.InvalidArgument(tableResource(t.Name), apierr.ReasonMalformedInput, "%v", err)
	}
	if t.RangeKey == nil {
		return h + sep, nil
	}
	r, err := encodeKeyValue(key[t.RangeKey.Name])
	if err != nil {
		return "", apierr.InvalidArgument(tableResource(t.Name), apierr.ReasonMalformedInput, "%v", err)
	}
	return h + sep + r, nil
}

func (c *Catalog) getTable(tx *bolt.Tx, name string) (Table, error) {
	var t Table
	ok, err := getJSON(tx.Bucket(tablesBucket), c.key(name), &t)
	if err != nil {
		return t, err
	}
	if !ok {
		return t, apierr.NotFound(tableResource(name), "table does not exist")
	}
	return t, nil
}

func (c *Catalog) CreateTable(t Table) (Table, error) {
	err := c.update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(tablesBucket)
		if tb.Get(c.key(t.Name)) != nil {
			return apierr.AlreadyExists(tableResource(t.Name), "table already exists")
		}
		t.CreatedAt = c.store.now()
		return putJSON(tb, c.key(t.Name), t)
	})
	return t, err
}

func (c *Catalog) GetTable(name string) (Table, error) {
	var t Table
	err := c.view(func(tx *bolt.Tx) error {
		var err error
		t, err = c.getTable(tx, name)
		return err
	})
	return t, err
}

func (c *Catalog) ListTables() ([]Table, error) {
	var tables []Table
	err := c.view(func(tx *bolt.Tx) error {
		return forEachPrefix(tx.Bucket(tablesBucket), c.prefix, func(_, v []byte) (bool, error) {
			var t Table
			if err := json.Unmarshal(v, &t); err != nil {
				return false, err
			}
			tables = append(tables, t)
			return true, nil
		})
	})
	return tables, err
}

// DeleteTable removes a table that holds no items.
func (c *Catalog) DeleteTable(name string) error {
	return c.update(func(tx *bolt.Tx) error {
		if _, err := c.getTable(tx, name); err != nil {
			return err
		}
		if hasPrefixRows(tx.Bucket(itemsBucket), c.scope(name)) {
			return apierr.Conflict(tableResource(name), apierr.ReasonNotEmpty, "table is not empty")
		}
		return tx.Bucket(tablesBucket).Delete(c.key(name))
	})
}

// CountItems returns the number of items stored in the table.
func (c *Catalog) CountItems(name string) (int64, error) {
	var n int64
	err := c.view(func(tx *bolt.Tx) error {
		if _, err := c.getTable(tx, name); err != nil {
			return err
		}
		return forEachPrefix(tx.Bucket(itemsBucket), c.scope(name), func(_, _ []byte) (bool, error) {
			n++
			return true, nil
		})
	})
	return n, err
}

// PutItem stores item, replacing any item with the same primary key. With
// ifNotExists an existing item fails the write with ConditionalCheckFailed.
// The replaced item, if any, is returned.
func (c *Catalog) PutItem(table string, item Item, ifNotExists bool) (Item, error) {
	var old Item
	err := c.update(func(tx *bolt.Tx) error {
		t, err := c.getTable(tx, table)
		if err != nil {
			return err
		}
		k, err := t.encodeKey(item)
		if err != nil {
			return err
		}
		ib := tx.Bucket(itemsBucket)
		rowKey := c.key(table, k)
		var prev Item
		ok, err := getJSON(ib, rowKey, &prev)
		if err != nil {
			return err
		}
		if ok {
			if ifNotExists {
				return apierr.Conflict(apierr.Resource{Type: apierr.ResourceItem, Container: table},
					apierr.ReasonConditionalCheckFailed, "the conditional request failed")
			}
			old = prev
		}
		return putJSON(ib, rowKey, item)
	})
	return old, err
}

// GetItem returns the item with the given primary key. A missing item is
// NotFound on the item resource.
func (c *Catalog) GetItem(table string, key Item) (Item, error) {
	var item Item
	err := c.view(func(tx *bolt.Tx) error {
		t, err := c.getTable(tx, table)
		if err != nil {
			return err
		}
		k, err := t.encodeKey(key)
		if err != nil {
			return err
		}
		ok, err := getJSON(tx.Bucket(itemsBucket), c.key(table, k), &item)
		if err != nil {
			return err
		}
		if !ok {
			return apierr.NotFound(apierr.Resource{Type: apierr.ResourceItem, Container: table}, "item does not exist")
		}
		return nil
	})
	return item, err
}

// DeleteItem removes the item with the given primary key and returns it, or
// nil when there was nothing to delete.
func (c *Catalog) DeleteItem(table string, key Item) (Item, error) {
	var old Item
	err := c.update(func(tx *bolt.Tx) error {
		t, err := c.getTable(tx, table)
		if err != nil {
			return err
		}
		k, err := t.encodeKey(key)
		if err != nil {
			return err
		}
		ib := tx.Bucket(itemsBucket)
		ok, err := getJSON(ib, c.key(table, k), &old)
		if err != nil || !ok {
			return err
		}
		return ib.Delete(c.key(table, k))
	})
	return old, err
}

// QueryItems returns every item sharing the hash key value, in storage
// order. Range ordering and conditions are applied by the caller.
func (c *Catalog) QueryItems(table string, hashValue AttributeValue) (Table, []Item, error) {
	var t Table
	var items []Item
	err := c.view(func(tx *bolt.Tx) error {
		var err error
		if t, err = c.getTable(tx, table); err != nil {
			return err
		}
		if hashValue.Type() != t.HashKey.Type {
			return apierr.InvalidArgument(tableResource(table), apierr.ReasonMalformedInput,
				"hash key %q must be of type %s", t.HashKey.Name, t.HashKey.Type)
		}
		h, err := encodeKeyValue(hashValue)
		if err != nil {
			return apierr.InvalidArgument(tableResource(table), apierr.ReasonMalformedInput, "%v", err)
		}
		return forEachPrefix(tx.Bucket(itemsBucket), c.key(table, h+sep), func(_, v []byte) (bool, error) {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return false, err
			}
			items = append(items, item)
			return true, nil
		})
	})
	return t, items, err
}

// ScanItems iterates the table in storage order, resuming after the item
// whose primary key is exclusiveStart. It returns the primary key of the
// last item when more remain.
func (c *Catalog) ScanItems(table string, exclusiveStart Item, limit int) ([]Item, Item, error) {
	var items []Item
	var lastKey Item
	err := c.view(func(tx *bolt.Tx) error {
		t, err := c.getTable(tx, table)
		if err != nil {
			return err
		}
		scope := c.scope(table)
		start := scope
		var after []byte
		if exclusiveStart != nil {
			k, err := t.encodeKey(exclusiveStart)
			if err != nil {
				return err
			}
			after = c.key(table, k)
			start = after
		}
		cur := tx.Bucket(itemsBucket).Cursor()
		for k, v := cur.Seek(start); k != nil && bytes.HasPrefix(k, scope); k, v = cur.Next() {
			if after != nil && bytes.Equal(k, after) {
				continue
			}
			if limit > 0 && len(items) == limit {
				lastKey, err = t.Key(items[len(items)-1])
				return err
			}
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	return items, lastKey, err
}

// EncodeItemKey renders a primary key as an opaque pagination token.
func EncodeItemKey(key Item) (string, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeItemKey reverses EncodeItemKey.
func DecodeItemKey(table, token string) (Item, error) {
	var key Item
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(data, &key)
	}
	if err != nil || len(key) == 0 {
		return nil, apierr.InvalidArgument(tableResource(table), apierr.ReasonInvalidToken, "pagination token is malformed")
	}
	return key, nil
}

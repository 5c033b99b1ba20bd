package metadata

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/clock"
)

var (
	bucketsBucket        = []byte("buckets")
	policiesBucket       = []byte("bucket_policies")
	objectsBucket        = []byte("objects")
	objectVersionsBucket = []byte("object_versions")
	multipartBucket      = []byte("multipart_uploads")
	partsBucket          = []byte("multipart_parts")
	tablesBucket         = []byte("tables")
	itemsBucket          = []byte("items")
	queuesBucket         = []byte("queues")
	messagesBucket       = []byte("messages")
	topicsBucket         = []byte("topics")
	subscriptionsBucket  = []byte("subscriptions")
)

var allBuckets = [][]byte{
	bucketsBucket,
	policiesBucket,
	objectsBucket,
	objectVersionsBucket,
	multipartBucket,
	partsBucket,
	tablesBucket,
	itemsBucket,
	queuesBucket,
	messagesBucket,
	topicsBucket,
	subscriptionsBucket,
}

const sep = "\x00"

// Store is the durable catalog for every emulated service. One bbolt file
// holds all accounts and regions; Namespace returns the scoped view services
// operate on.
type Store struct {
	db  *bolt.DB
	clk clock.Clock

	entropyMu sync.Mutex
	entropy   io.Reader
}

func NewStore(path string, clk clock.Clock) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if clk == nil {
		clk = clock.System{}
	}
	return &Store{
		db:      db,
		clk:     clk,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) now() time.Time {
	return s.clk.Now().UTC()
}

// newVersionID returns a time-sortable version identifier.
func (s *Store) newVersionID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// Catalog is the store scoped to one account and region. All keys it writes
// carry the namespace prefix, so namespaces never observe each other.
type Catalog struct {
	store  *Store
	prefix []byte
	ns     Namespace
}

// Namespace identifies an account/region pair.
type Namespace struct {
	Account string `json:"account"`
	Region  string `json:"region"`
}

func (n Namespace) String() string {
	return n.Account + "/" + n.Region
}

// Namespace returns the catalog view for account and region.
func (s *Store) Namespace(account, region string) (*Catalog, error) {
	if account == "" || region == "" || strings.ContainsRune(account, 0) || strings.ContainsRune(region, 0) ||
		strings.Contains(account, "/") || strings.Contains(region, "/") {
		return nil, apierr.InvalidArgument(apierr.Resource{}, apierr.ReasonInvalidName,
			"invalid namespace %q/%q", account, region)
	}
	return &Catalog{
		store:  s,
		prefix: []byte(account + sep + region + sep),
		ns:     Namespace{Account: account, Region: region},
	}, nil
}

// Namespace reports which account and region c is scoped to.
func (c *Catalog) Namespace() Namespace {
	return c.ns
}

// key builds a namespaced row key from components.
func (c *Catalog) key(parts ...string) []byte {
	k := make([]byte, 0, len(c.prefix)+32)
	k = append(k, c.prefix...)
	return append(k, strings.Join(parts, sep)...)
}

// scope builds the prefix under which every row keyed by parts+child lives.
func (c *Catalog) scope(parts ...string) []byte {
	return append(c.key(parts...), sep...)
}

// trim strips the namespace and the given scope from a row key.
func trimScope(k, scope []byte) string {
	return string(k[len(scope):])
}

func (c *Catalog) update(fn func(tx *bolt.Tx) error) error {
	return apierr.Internal(c.store.db.Update(fn), "catalog update")
}

func (c *Catalog) view(fn func(tx *bolt.Tx) error) error {
	return apierr.Internal(c.store.db.View(fn), "catalog read")
}

// getJSON decodes the row at key into v and reports whether it existed.
func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return b.Put(key, data)
}

// forEachPrefix walks rows whose key begins with prefix, in key order, until
// fn returns false or an error.
func forEachPrefix(b *bolt.Bucket, prefix []byte, fn func(k, v []byte) (bool, error)) error {
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		more, err := fn(k, v)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// deletePrefix removes every row under prefix and returns how many it removed.
func deletePrefix(b *bolt.Bucket, prefix []byte) (int, error) {
	var keys [][]byte
	err := forEachPrefix(b, prefix, func(k, _ []byte) (bool, error) {
		keys = append(keys, append([]byte(nil), k...))
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func hasPrefixRows(b *bolt.Bucket, prefix []byte) bool {
	k, _ := b.Cursor().Seek(prefix)
	return k != nil && bytes.HasPrefix(k, prefix)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// BucketStats reports the row count of every catalog table across all
// namespaces.
func (s *Store) BucketStats() (map[string]int, error) {
	stats := make(map[string]int, len(allBuckets))
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			stats[string(name)] = tx.Bucket(name).Stats().KeyN
		}
		return nil
	})
	return stats, err
}

// Namespaces lists every account/region pair that owns at least one bucket,
// table, queue or topic.
func (s *Store) Namespaces() ([]Namespace, error) {
	seen := make(map[Namespace]struct{})
	var out []Namespace
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketsBucket, tablesBucket, queuesBucket, topicsBucket} {
			err := tx.Bucket(name).ForEach(func(k, _ []byte) error {
				parts := strings.SplitN(string(k), sep, 3)
				if len(parts) < 3 {
					return nil
				}
				ns := Namespace{Account: parts[0], Region: parts[1]}
				if _, ok := seen[ns]; !ok {
					seen[ns] = struct{}{}
					out = append(out, ns)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

package metadata

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	bolt "go.etcd.io/bbolt"
)

// snapshotMagic opens every export stream.
var snapshotMagic = []byte("CEMUSNAP1")

// Export writes every catalog table to w as a length-prefixed stream:
// magic, then per table (name, sequence, row count, rows of key and value).
func (s *Store) Export(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(snapshotMagic); err != nil {
		return err
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			b := tx.Bucket(name)
			if err := writeBytes(bw, name); err != nil {
				return fmt.Errorf("write table name %s: %w", name, err)
			}
			if err := binary.Write(bw, binary.BigEndian, b.Sequence()); err != nil {
				return fmt.Errorf("write sequence: %w", err)
			}
			if err := binary.Write(bw, binary.BigEndian, uint64(b.Stats().KeyN)); err != nil {
				return fmt.Errorf("write row count: %w", err)
			}
			err := b.ForEach(func(k, v []byte) error {
				if err := writeBytes(bw, k); err != nil {
					return err
				}
				return writeBytes(bw, v)
			})
			if err != nil {
				return fmt.Errorf("write %s rows: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// Import replaces the catalog with the contents of an Export stream. Tables
// missing from the stream end up empty.
func (s *Store) Import(r io.Reader) error {
	br := bufio.NewReader(r)
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != string(snapshotMagic) {
		return errors.New("not a catalog snapshot")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return fmt.Errorf("clear %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreate %s: %w", name, err)
			}
		}
		for {
			name, err := readBytes(br)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read table name: %w", err)
			}
			b := tx.Bucket(name)
			if b == nil {
				return fmt.Errorf("unknown table %q in snapshot", name)
			}
			var seq, count uint64
			if err := binary.Read(br, binary.BigEndian, &seq); err != nil {
				return fmt.Errorf("read sequence: %w", err)
			}
			if err := b.SetSequence(seq); err != nil {
				return err
			}
			if err := binary.Read(br, binary.BigEndian, &count); err != nil {
				return fmt.Errorf("read row count: %w", err)
			}
			for i := uint64(0); i < count; i++ {
				key, err := readBytes(br)
				if err != nil {
					return fmt.Errorf("read key: %w", err)
				}
				val, err := readBytes(br)
				if err != nil {
					return fmt.Errorf("read value: %w", err)
				}
				if err := b.Put(key, val); err != nil {
					return fmt.Errorf("put key: %w", err)
				}
			}
		}
	})
}

func writeBytes(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

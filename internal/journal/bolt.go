package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

// Bolt keeps the journal in a bbolt database, keyed by sequence.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates a bbolt journal at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Append implements Journal.
func (b *Bolt) Append(e Entry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next journal sequence: %w", err)
		}
		stamp(&e, int64(seq))
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal journal entry: %w", err)
		}
		return bucket.Put(sequenceKey(seq), data)
	})
}

// Entries returns the entries newer than since in sequence order.
func (b *Bolt) Entries(since time.Time) ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal journal entry: %w", err)
			}
			if e.Timestamp.After(since) {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// Close implements Journal.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

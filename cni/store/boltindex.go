package store

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const attachmentBucketName = "cni-isolator-attachments"

// AttachmentSummary is the operator-facing snapshot the BoltIndex keeps
// per container, for the "status" CLI subcommand. It is never consulted
// by recover() or cleanup(): the directory tree under rootDir remains the
// sole source of truth for crash recovery, matching the Checkpoint
// Store's crash-safety contract. The index exists purely so an operator
// can ask "what is container X attached to" without walking the
// filesystem.
type AttachmentSummary struct {
	ContainerID string            `json:"container_id"`
	Networks    map[string]string `json:"networks"` // networkName -> ifName
	UpdatedAt   time.Time         `json:"updated_at"`
}

// BoltIndex is a best-effort, bolt-backed side index: a single bucket,
// JSON-encoded values, open/close idempotent.
type BoltIndex struct {
	path string
	db   *bolt.DB
}

// NewBoltIndex returns an index backed by the bolt database at path. The
// database is not opened until Open is called.
func NewBoltIndex(path string) *BoltIndex {
	return &BoltIndex{path: path}
}

func (b *BoltIndex) Open() error {
	if b.db != nil {
		return nil
	}
	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return errors.Wrapf(err, "failed to open attachment index %q", b.path)
	}
	b.db = db
	return nil
}

func (b *BoltIndex) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// Put records the current set of attachments for a container. Called
// after a successful isolate(); cleanup() removes the entry with Delete
// instead.
func (b *BoltIndex) Put(summary AttachmentSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return errors.WithStack(err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(attachmentBucketName))
		if err != nil {
			return errors.WithStack(err)
		}
		return bucket.Put([]byte(summary.ContainerID), data)
	})
}

// Get returns the last recorded summary for a container, or nil if none
// is on record.
func (b *BoltIndex) Get(containerID string) (*AttachmentSummary, error) {
	var summary *AttachmentSummary
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(attachmentBucketName))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(containerID))
		if data == nil {
			return nil
		}
		summary = &AttachmentSummary{}
		return json.Unmarshal(data, summary)
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return summary, nil
}

// Delete removes a container's entry, called once cleanup() has finished.
func (b *BoltIndex) Delete(containerID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(attachmentBucketName))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(containerID))
	})
}

// List returns every container ID with a recorded entry.
func (b *BoltIndex) List() ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(attachmentBucketName))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ids, nil
}

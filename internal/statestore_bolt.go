package internal

import (
	"context"
	"fmt"

	"github.com/bdlm/bedlam"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var _ bedlam.StateStore = (*BoltStateStore)(nil)

// BoltStateStore keeps BSON encoded Objects in a single bbolt bucket.
type BoltStateStore struct {
	db     *bbolt.DB
	bucket []byte
}

// NewBoltStateStore opens (or creates) the bolt file at path.
func NewBoltStateStore(path, bucket string) (*BoltStateStore, error) {
	if path == "" {
		return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidName, "bolt state store needs a path")
	}
	if bucket == "" {
		return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidName, "bolt state store needs a bucket")
	}
	zap.S().Debugw("opening bolt state store", "path", path, "bucket", bucket)

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "failed to open bolt db", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "failed to create bolt bucket", err)
	}
	return &BoltStateStore{db: db, bucket: []byte(bucket)}, nil
}

func (s *BoltStateStore) Put(_ context.Context, key string, obj *bedlam.Object) error {
	if obj == nil {
		return bedlam.NewConfigurationError(bedlam.ErrCodeInvalidType, "cannot store a nil object")
	}
	data, err := obj.MarshalBSON()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(s.bucket).Put([]byte(key), data); err != nil {
			return bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, fmt.Sprintf("put %q", key), err)
		}
		return nil
	})
}

func (s *BoltStateStore) Get(_ context.Context, key string) (*bedlam.Object, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		// Values are only valid for the life of the transaction.
		if v := tx.Bucket(s.bucket).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, fmt.Sprintf("get %q", key), err)
	}
	if data == nil {
		return nil, bedlam.NewStateNotFoundError(key)
	}
	obj := &bedlam.Object{}
	if err := obj.UnmarshalBSON(data); err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *BoltStateStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

func (s *BoltStateStore) Close() error {
	return s.db.Close()
}

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/modkernel/switchyard/pkg/types"
)

var (
	// Bucket names
	bucketExecutions = []byte("executions")
	bucketApprovals  = []byte("approvals")
	bucketLocks      = []byte("locks")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the bolt database at path
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketExecutions,
			bucketApprovals,
			bucketLocks,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Execution operations
func (s *BoltStore) PutExecution(execution *types.Execution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data, err := json.Marshal(execution)
		if err != nil {
			return err
		}
		return b.Put([]byte(execution.ID), data)
	})
}

func (s *BoltStore) GetExecution(id string) (*types.Execution, error) {
	var execution types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: execution %s", types.ErrNotFound, id)
		}
		return json.Unmarshal(data, &execution)
	})
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

func (s *BoltStore) ListExecutions() ([]*types.Execution, error) {
	var executions []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(k, v []byte) error {
			var execution types.Execution
			if err := json.Unmarshal(v, &execution); err != nil {
				return err
			}
			executions = append(executions, &execution)
			return nil
		})
	})
	return executions, err
}

func (s *BoltStore) DeleteExecution(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.Delete([]byte(id))
	})
}

// Approval operations
func (s *BoltStore) PutApproval(approval *PendingApproval) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApprovals)
		data, err := json.Marshal(approval)
		if err != nil {
			return err
		}
		return b.Put([]byte(approval.ExecutionID), data)
	})
}

func (s *BoltStore) ListApprovals() ([]*PendingApproval, error) {
	var approvals []*PendingApproval
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApprovals)
		return b.ForEach(func(k, v []byte) error {
			var approval PendingApproval
			if err := json.Unmarshal(v, &approval); err != nil {
				return err
			}
			approvals = append(approvals, &approval)
			return nil
		})
	})
	return approvals, err
}

func (s *BoltStore) DeleteApproval(executionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApprovals)
		return b.Delete([]byte(executionID))
	})
}

// Lock holder operations
func (s *BoltStore) PutLockHolder(holder *LockHolder) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		data, err := json.Marshal(holder)
		if err != nil {
			return err
		}
		return b.Put([]byte(holder.Key), data)
	})
}

func (s *BoltStore) ListLockHolders() ([]*LockHolder, error) {
	var holders []*LockHolder
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		return b.ForEach(func(k, v []byte) error {
			var holder LockHolder
			if err := json.Unmarshal(v, &holder); err != nil {
				return err
			}
			holders = append(holders, &holder)
			return nil
		})
	})
	return holders, err
}

func (s *BoltStore) DeleteLockHolder(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		return b.Delete([]byte(key))
	})
}

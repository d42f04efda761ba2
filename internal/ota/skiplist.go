package ota

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketSkipList = []byte("ota_skip_list")

// SkipList persistently tracks versions that failed signature
// verification or a post-swap health check. A skipped version is never retried automatically; only an
// operator clearing the entry (outside the scheduler) reopens it.
type SkipList struct {
	db *bolt.DB
}

func NewSkipList(db *bolt.DB) (*SkipList, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSkipList)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ota: init skip list: %w", err)
	}
	return &SkipList{db: db}, nil
}

func (s *SkipList) Add(version, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSkipList).Put([]byte(version), []byte(reason))
	})
}

func (s *SkipList) Contains(version string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketSkipList).Get([]byte(version)) != nil
		return nil
	})
	return found, err
}

/*
   Copyright The thinstamp Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package scenario

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
)

// Run statuses recorded in the journal.
const (
	StatusPass = "pass"
	StatusFail = "fail"
)

var (
	runsBucketName      = []byte("runs")
	forensicsBucketName = []byte("forensics")
)

// One-shot zstd codecs for forensic artifacts; both are safe for
// concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Record is the journaled outcome of one scenario run. BlockSize is in
// 512-byte sectors, matching the pool superblock.
type Record struct {
	ID               uint64    `json:"id"`
	Name             string    `json:"name"`
	Seed             uint64    `json:"seed"`
	BlockSize        uint32    `json:"block_size"`
	NrDataBlocks     uint64    `json:"nr_data_blocks"`
	TargetBlocks     uint64    `json:"target_blocks"`
	BlocksStamped    uint64    `json:"blocks_stamped"`
	BlocksVerified   uint64    `json:"blocks_verified"`
	DataDigestBefore string    `json:"data_digest_before,omitempty"`
	DataDigestAfter  string    `json:"data_digest_after,omitempty"`
	Status           string    `json:"status"`
	Failure          string    `json:"failure,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// RunStore journals scenario outcomes in a bolt database. Failed runs keep
// their metadata descriptions alongside, zstd-compressed, so failures stay
// diagnosable after the working directory is gone.
type RunStore struct {
	db *bolt.DB
}

// OpenRunStore opens or creates the journal database at path.
func OpenRunStore(path string) (*RunStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	store := &RunStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}
	return store, nil
}

func (s *RunStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(runsBucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(forensicsBucketName)
		return err
	})
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	if err := s.db.Close(); err != nil && err != bolt.ErrDatabaseNotOpen {
		return err
	}
	return nil
}

// Add journals a record, assigning it the next run ID.
func (s *RunStore) Add(ctx context.Context, r *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(runsBucketName)

		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		r.ID = id

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal run record: %w", err)
		}
		return bucket.Put(runKey(id), data)
	})
}

// Get returns the record with the given run ID.
func (s *RunStore) Get(ctx context.Context, id uint64) (*Record, error) {
	var r Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(runsBucketName).Get(runKey(id))
		if data == nil {
			return fmt.Errorf("run %d: %w", id, errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Walk calls fn for every journaled record in run order.
func (s *RunStore) Walk(ctx context.Context, fn func(*Record) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucketName).ForEach(func(_, data []byte) error {
			var r Record
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("failed to unmarshal run record: %w", err)
			}
			return fn(&r)
		})
	})
}

// AttachForensics stores a named artifact for a run, compressed.
func (s *RunStore) AttachForensics(ctx context.Context, id uint64, name string, data []byte) error {
	compressed := zstdEncoder.EncodeAll(data, nil)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(forensicsBucketName).Put(forensicsKey(id, name), compressed)
	})
}

// Forensics returns a run's named artifact, decompressed.
func (s *RunStore) Forensics(ctx context.Context, id uint64, name string) ([]byte, error) {
	var compressed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(forensicsBucketName).Get(forensicsKey(id, name))
		if data == nil {
			return fmt.Errorf("run %d has no artifact %q: %w", id, name, errdefs.ErrNotFound)
		}
		compressed = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress artifact %q: %w", name, err)
	}
	return data, nil
}

// WalkForensics calls fn with the name of every artifact attached to a run.
func (s *RunStore) WalkForensics(ctx context.Context, id uint64, fn func(name string) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		var (
			cursor = tx.Bucket(forensicsBucketName).Cursor()
			prefix = runKey(id)
		)
		for k, _ := cursor.Seek(prefix); bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			if err := fn(string(k[len(prefix)+1:])); err != nil {
				return err
			}
		}
		return nil
	})
}

func runKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func forensicsKey(id uint64, name string) []byte {
	return append(runKey(id), "/"+name...)
}

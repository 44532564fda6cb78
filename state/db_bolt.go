// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/v2/codec"
	"go.etcd.io/bbolt"
)

/*
The agent has a boltDB backed wait store. The schema looks as follows:

meta/
|--> version -> '1' (not msgpack encoded)
active/
|--> <wait-id> -> *WaitRecord # creation record, removed on terminal write
terminal/
|--> <wait-id> -> *WaitRecord # final record, append-only
*/

var (
	// metaBucketName is the name of the metadata bucket
	metaBucketName = []byte("meta")

	// metaVersionKey is the key the state schema version is stored under.
	metaVersionKey = []byte("version")

	// metaVersion is the value of the state schema version to detect when
	// an upgrade is needed. It skips the usual msgpack encoding to be as
	// portable and futureproof as possible.
	metaVersion = []byte{'1'}

	// activeBucketName is the bucket containing creation records for waits
	// that have not reached a terminal status.
	activeBucketName = []byte("active")

	// terminalBucketName is the bucket containing final records. Keys are
	// never overwritten once set.
	terminalBucketName = []byte("terminal")
)

// msgpackHandle is shared among all msgpack encoders and decoders as it is
// safe for concurrent use.
var msgpackHandle = &codec.MsgpackHandle{}

func encodeRecord(rec *WaitRecord) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, msgpackHandle).Encode(rec); err != nil {
		return nil, fmt.Errorf("failed to encode wait record %q: %v", rec.ID, err)
	}
	return buf, nil
}

func decodeRecord(data []byte) (*WaitRecord, error) {
	rec := &WaitRecord{}
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(rec); err != nil {
		return nil, fmt.Errorf("failed to decode wait record: %v", err)
	}
	return rec, nil
}

// NewStateDBFunc creates a StateDB given a state directory.
type NewStateDBFunc func(logger hclog.Logger, stateDir string) (StateDB, error)

// GetStateDBFactory returns a func for creating a StateDB.
func GetStateDBFactory(devMode bool) NewStateDBFunc {
	// Return an in-memory state db implementation when in dev mode
	if devMode {
		return func(logger hclog.Logger, _ string) (StateDB, error) {
			return NewMemDB(logger), nil
		}
	}

	return NewBoltStateDB
}

// BoltStateDB persists and restores wait records in a boltdb. All methods are
// safe for concurrent access.
type BoltStateDB struct {
	stateDir string
	db       *bbolt.DB
	logger   hclog.Logger
}

// NewBoltStateDB creates or opens an existing boltdb state file or returns an
// error.
func NewBoltStateDB(logger hclog.Logger, stateDir string) (StateDB, error) {
	fn := filepath.Join(stateDir, "smartwait.db")

	// Check to see if the DB already exists
	fi, err := os.Stat(fn)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	firstRun := fi == nil

	// Timeout to force failure when accessing a data dir that is already in use
	timeout := &bbolt.Options{Timeout: 5 * time.Second}

	// Create or open the boltdb state database
	db, err := bbolt.Open(fn, 0600, timeout)
	if err == bbolt.ErrTimeout {
		return nil, fmt.Errorf("timed out while opening database, is another SmartWait agent accessing state_dir %s?", stateDir)
	} else if err != nil {
		return nil, fmt.Errorf("failed to create state database: %v", err)
	}

	sdb := &BoltStateDB{
		stateDir: stateDir,
		db:       db,
		logger:   logger.Named("boltdb"),
	}

	// If db did not already exist, initialize metadata fields
	if firstRun {
		if err := sdb.init(); err != nil {
			return nil, err
		}
	}

	return sdb, nil
}

// init initializes metadata entries on a newly created state database.
func (s *BoltStateDB) init() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(metaBucketName)
		if err != nil {
			return err
		}
		return bkt.Put(metaVersionKey, metaVersion)
	})
}

func (s *BoltStateDB) Name() string {
	return "boltdb"
}

func (s *BoltStateDB) PutActive(rec *WaitRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(activeBucketName)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(rec.ID), data)
	})
}

func (s *BoltStateDB) MarkTerminal(rec *WaitRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		key := []byte(rec.ID)

		bkt, err := tx.CreateBucketIfNotExists(terminalBucketName)
		if err != nil {
			return err
		}
		if bkt.Get(key) != nil {
			return fmt.Errorf("wait %q already has a terminal record", rec.ID)
		}
		if err := bkt.Put(key, data); err != nil {
			return err
		}

		// The creation record may be missing if the store was wiped
		// between registration and finalization. Not an error.
		if active := tx.Bucket(activeBucketName); active != nil {
			return active.Delete(key)
		}
		return nil
	})
}

func (s *BoltStateDB) GetTerminal(id string) (*WaitRecord, error) {
	var rec *WaitRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(terminalBucketName)
		if bkt == nil {
			return nil
		}
		data := bkt.Get([]byte(id))
		if data == nil {
			return nil
		}

		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (s *BoltStateDB) ListTerminal() ([]*WaitRecord, error) {
	return s.listBucket(terminalBucketName)
}

func (s *BoltStateDB) ListActive() ([]*WaitRecord, error) {
	return s.listBucket(activeBucketName)
}

func (s *BoltStateDB) listBucket(name []byte) ([]*WaitRecord, error) {
	recs := make([]*WaitRecord, 0, 10)

	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(name)
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("wait %q: %v", string(k), err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return recs, nil
}

func (s *BoltStateDB) OrphanActive(detail string) ([]string, error) {
	var orphaned []string
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		active := tx.Bucket(activeBucketName)
		if active == nil {
			return nil
		}
		terminal, err := tx.CreateBucketIfNotExists(terminalBucketName)
		if err != nil {
			return err
		}

		// Collect first; mutating a bucket invalidates its cursor.
		type orphan struct {
			key []byte
			rec *WaitRecord
		}
		var orphans []orphan
		err = active.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("wait %q: %v", string(k), err)
			}
			key := make([]byte, len(k))
			copy(key, k)
			orphans = append(orphans, orphan{key: key, rec: rec})
			return nil
		})
		if err != nil {
			return err
		}

		for _, o := range orphans {
			o.rec.Status = "error"
			o.rec.Detail = detail
			o.rec.ResolvedAt = now

			if terminal.Get(o.key) == nil {
				data, err := encodeRecord(o.rec)
				if err != nil {
					return err
				}
				if err := terminal.Put(o.key, data); err != nil {
					return err
				}
			}
			if err := active.Delete(o.key); err != nil {
				return err
			}
			orphaned = append(orphaned, o.rec.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return orphaned, nil
}

// Close releases the underlying file handle. Blocks until all in-flight
// transactions complete.
func (s *BoltStateDB) Close() error {
	return s.db.Close()
}

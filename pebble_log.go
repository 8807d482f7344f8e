// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the log manager on top of a pebble store. Without a
// directory the store lives in an in-memory filesystem.

package txbtree

import (
	"encoding/binary"
	"sync/atomic"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/golang/glog"
)

const (
	pebbleEntryPrefix = 'e'
)

var pebbleNextLSNKey = []byte("m/next-lsn")

// PebbleLog -- log entries stored as pebble keys 'e' + big endian LSN.
type PebbleLog struct {
	db      *pebble.DB
	dir     string
	wo      *pebble.WriteOptions
	nextLSN atomic.Uint64
}

// NewPebbleLog -- open (or create) the store in dir. An empty dir means an
// in-memory store.
func NewPebbleLog(dir string, sync bool) (*PebbleLog, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		glog.Errorf("could not open pebble store at %q :: %v", dir, err)
		return nil, err
	}
	l := &PebbleLog{db: db, dir: dir, wo: pebble.NoSync}
	if sync {
		l.wo = pebble.Sync
	}
	l.nextLSN.Store(1)
	val, closer, err := db.Get(pebbleNextLSNKey)
	switch {
	case err == nil:
		l.nextLSN.Store(binary.BigEndian.Uint64(val))
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		db.Close()
		return nil, err
	}
	glog.Infof("using pebble log at %q, next lsn %d", dir, l.nextLSN.Load())
	return l, nil
}

func pebbleEntryKey(lsn common.LSN) []byte {
	k := make([]byte, 9)
	k[0] = pebbleEntryPrefix
	binary.BigEndian.PutUint64(k[1:], uint64(lsn))
	return k
}

// Append - store an entry at the next LSN.
func (l *PebbleLog) Append(entry []byte) (common.LSN, error) {
	lsn := common.LSN(l.nextLSN.Add(1) - 1)
	if err := l.db.Set(pebbleEntryKey(lsn), entry, l.wo); err != nil {
		return common.NullLSN, err
	}
	return lsn, nil
}

// Read - read the entry at lsn.
func (l *PebbleLog) Read(lsn common.LSN) ([]byte, error) {
	val, closer, err := l.db.Get(pebbleEntryKey(lsn))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// Delete - remove the entry at lsn.
func (l *PebbleLog) Delete(lsn common.LSN) error {
	return l.db.Delete(pebbleEntryKey(lsn), l.wo)
}

func (l *PebbleLog) Flush() error {
	return l.db.Flush()
}

// Close -- record where LSN assignment resumes and close the store.
func (l *PebbleLog) Close() error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], l.nextLSN.Load())
	if err := l.db.Set(pebbleNextLSNKey, b[:], pebble.Sync); err != nil {
		glog.Errorf("failed to store next lsn: %v", err)
	}
	return l.db.Close()
}

// Policy -- Get the policy name for this manager.
func (l *PebbleLog) Policy() string {
	return common.LogPolicyPebble
}

// Package cadir is the content-addressable DirectoryHandler of spec.md
// §4.2: "stores every file as a zlib-compressed object named by SHA-1 of
// its content, every directory as a 'tree' object [...], and the master
// state as one 'commit' object; persists the current master commit-id
// under refs/heads/master. Supports atomic copy (object reuse) and
// snapshotting (additional refs)."
//
// Object storage follows the teacher's badger-backed metadata store
// (pkg/store/metadata/badger) in spirit: a badger.DB keyed index sits in
// front of the authoritative data so repeated existence/type/size queries
// don't pay for a zlib decompression. Here the authoritative data is loose,
// zlib-compressed object files on disk (mirroring Git's object database)
// rather than badger itself, since objects are immutable and
// content-addressed — a plain file per object needs no transactional store
// — but the index of "which objects exist, what type and size are they"
// lives in badger for fast negative lookups and Stat-style queries.
package cadir

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zlib"

	"github.com/vgshost/core/internal/apperr"
)

// Kind is an object's type tag, mirroring Git's blob/tree/commit typing.
type Kind string

const (
	KindBlob   Kind = "blob"
	KindTree   Kind = "tree"
	KindCommit Kind = "commit"
)

// objectStore is the shared backing for every Dir
// descended from the same root: the zlib object files on disk, a badger
// index of their (kind, size), and the refs directory.
type objectStore struct {
	root  string // base directory: objects/, refs/
	index *badger.DB
}

func openObjectStore(root string) (*objectStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0o755); err != nil {
		return nil, apperr.New(apperr.Internal, err.Error())
	}
	if err := os.MkdirAll(filepath.Join(root, "refs", "heads"), 0o755); err != nil {
		return nil, apperr.New(apperr.Internal, err.Error())
	}
	if err := os.MkdirAll(filepath.Join(root, "refs", "snapshots"), 0o755); err != nil {
		return nil, apperr.New(apperr.Internal, err.Error())
	}

	opts := badger.DefaultOptions(filepath.Join(root, "index")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperr.New(apperr.Internal, fmt.Sprintf("opening object index: %s", err))
	}
	return &objectStore{root: root, index: db}, nil
}

func (s *objectStore) Close() error {
	return s.index.Close()
}

// hashObject computes the content-address the way Git does: the SHA-1 of
// "<kind> <len>\x00<content>" rather than of the raw content, so a blob and
// a tree that happen to share bytes never collide.
func hashObject(kind Kind, content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *objectStore) objectPath(id string) string {
	return filepath.Join(s.root, "objects", id[:2], id[2:])
}

// indexKey/indexValue encode just enough metadata (kind + size) to answer
// existence and Stat-shaped questions without touching the zlib file.
func indexKey(id string) []byte { return []byte("obj:" + id) }

func encodeIndexValue(kind Kind, size int) []byte {
	return []byte(fmt.Sprintf("%s %d", kind, size))
}

func decodeIndexValue(v []byte) (Kind, int, error) {
	var kind string
	var size int
	if _, err := fmt.Sscanf(string(v), "%s %d", &kind, &size); err != nil {
		return "", 0, err
	}
	return Kind(kind), size, nil
}

// Put writes content as a new object of the given kind (a no-op, beyond
// re-confirming the index entry, if the object already exists — content-
// addressing makes writes idempotent) and returns its object ID.
func (s *objectStore) Put(kind Kind, content []byte) (string, error) {
	id := hashObject(kind, content)

	if has, err := s.has(id); err == nil && has {
		return id, nil
	}

	path := s.objectPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apperr.New(apperr.Internal, err.Error())
	}

	f, err := os.Create(path)
	if err != nil {
		return "", apperr.New(apperr.Internal, err.Error())
	}
	defer f.Close()

	zw := zlib.NewWriter(f)
	if _, err := fmt.Fprintf(zw, "%s %d\x00", kind, len(content)); err != nil {
		zw.Close()
		return "", apperr.New(apperr.Internal, err.Error())
	}
	if _, err := zw.Write(content); err != nil {
		zw.Close()
		return "", apperr.New(apperr.Internal, err.Error())
	}
	if err := zw.Close(); err != nil {
		return "", apperr.New(apperr.Internal, err.Error())
	}

	err = s.index.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey(id), encodeIndexValue(kind, len(content)))
	})
	if err != nil {
		return "", apperr.New(apperr.Internal, err.Error())
	}
	return id, nil
}

func (s *objectStore) has(id string) (bool, error) {
	var found bool
	err := s.index.View(func(txn *badger.Txn) error {
		_, err := txn.Get(indexKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// allObjectIDs lists every object ID currently indexed, for gc's sweep
// phase.
func (s *objectStore) allObjectIDs() ([]string, error) {
	var ids []string
	err := s.index.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("obj:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.Internal, err.Error())
	}
	return ids, nil
}

// deleteObject removes id's loose object file and its index entry.
func (s *objectStore) deleteObject(id string) error {
	if err := os.Remove(s.objectPath(id)); err != nil && !os.IsNotExist(err) {
		return apperr.New(apperr.Internal, err.Error())
	}
	err := s.index.Update(func(txn *badger.Txn) error {
		return txn.Delete(indexKey(id))
	})
	if err != nil {
		return apperr.New(apperr.Internal, err.Error())
	}
	return nil
}

// Stat returns an object's kind and size from the index, falling back to
// reading the object file directly (and repopulating the index) if the
// index has no entry — e.g. after an index wipe with objects left on disk.
func (s *objectStore) Stat(id string) (Kind, int, error) {
	var kind Kind
	var size int
	var ok bool
	err := s.index.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			k, sz, err := decodeIndexValue(v)
			if err != nil {
				return err
			}
			kind, size, ok = k, sz, true
			return nil
		})
	})
	if err != nil {
		return "", 0, apperr.New(apperr.Internal, err.Error())
	}
	if ok {
		return kind, size, nil
	}

	k, content, err := s.getUnindexed(id)
	if err != nil {
		return "", 0, err
	}
	_ = s.index.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey(id), encodeIndexValue(k, len(content)))
	})
	return k, len(content), nil
}

// Get reads and decompresses an object, verifying its kind.
func (s *objectStore) Get(id string, want Kind) ([]byte, error) {
	kind, content, err := s.getUnindexed(id)
	if err != nil {
		return nil, err
	}
	if kind != want {
		return nil, apperr.New(apperr.Internal, fmt.Sprintf("object %s: expected %s, got %s", id, want, kind))
	}
	return content, nil
}

func (s *objectStore) getUnindexed(id string) (Kind, []byte, error) {
	f, err := os.Open(s.objectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, apperr.New(apperr.NotFound, "no such object")
		}
		return "", nil, apperr.New(apperr.Internal, err.Error())
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return "", nil, apperr.New(apperr.Internal, err.Error())
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, apperr.New(apperr.Internal, err.Error())
	}

	sep := bytes.IndexByte(raw, 0)
	if sep < 0 {
		return "", nil, apperr.New(apperr.Internal, "corrupt object header")
	}
	var kind string
	var size int
	if _, err := fmt.Sscanf(string(raw[:sep]), "%s %d", &kind, &size); err != nil {
		return "", nil, apperr.New(apperr.Internal, "corrupt object header")
	}
	content := raw[sep+1:]
	if len(content) != size {
		return "", nil, apperr.New(apperr.Internal, "object size mismatch")
	}
	return Kind(kind), content, nil
}

package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// JSONFile is a KV backed by one file per record, written atomically
// (temp file + rename) with 0600 permissions, mirroring the
// permission discipline identity uses for the node's seed file.
type JSONFile struct {
	mu  sync.Mutex
	dir string
}

func NewJSONFile(dir string) (*JSONFile, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "store: create base dir")
	}
	return &JSONFile{dir: dir}, nil
}

func (f *JSONFile) bucketDir(bucket string) string {
	return filepath.Join(f.dir, filepath.Base(bucket))
}

func (f *JSONFile) keyPath(bucket, key string) string {
	return filepath.Join(f.bucketDir(bucket), filepath.Base(key)+".json")
}

func (f *JSONFile) Put(bucket, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.bucketDir(bucket)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "store: create bucket dir")
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "store: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return errors.Wrap(err, "store: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "store: close temp file")
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return errors.Wrap(err, "store: chmod temp file")
	}
	if err := os.Rename(tmpPath, f.keyPath(bucket, key)); err != nil {
		return errors.Wrap(err, "store: rename into place")
	}
	return nil
}

func (f *JSONFile) Get(bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.keyPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "store: read")
	}
	return b, nil
}

func (f *JSONFile) All(bucket string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.bucketDir(bucket)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]byte{}, nil
		}
		return nil, errors.Wrap(err, "store: read bucket dir")
	}

	out := make(map[string][]byte, len(entries))
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrap(err, "store: read record")
		}
		key := name[:len(name)-len(".json")]
		out[key] = b
	}
	return out, nil
}

func (f *JSONFile) Delete(bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.keyPath(bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "store: delete")
	}
	return nil
}

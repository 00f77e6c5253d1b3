// Package embeddings scores text similarity and caches embedding vectors on
// disk, keyed by the model and text they were computed from.
package embeddings

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Cache stores vectors as little-endian float64 arrays, one file per key.
type Cache struct {
	dir string
}

// NewCache returns a cache rooted at dir. The directory is created on the
// first Put.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Key is the content address for text embedded with model.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key[:2], key+".bin")
}

// Get returns the cached vector for key, or nil when absent.
func (c *Cache) Get(key string) ([]float64, error) {
	vec, err := ReadEmbedding(c.path(key))
	if os.IsNotExist(errors.Cause(err)) {
		return nil, nil
	}
	return vec, err
}

// Put stores vec under key, replacing any previous value atomically.
func (c *Cache) Put(key string, vec []float64) error {
	if err := Validate(vec); err != nil {
		return err
	}
	p := c.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.Wrap(err, "failed to create embedding cache dir")
	}
	tmp := p + ".tmp"
	if err := WriteEmbedding(tmp, vec); err != nil {
		os.Remove(tmp)
		return err
	}
	return errors.Wrap(os.Rename(tmp, p), "failed to store embedding")
}

// WriteEmbedding writes vec to path as little-endian float64 values.
func WriteEmbedding(path string, vec []float64) error {
	if len(vec) == 0 {
		return errors.New("embedding vector cannot be empty")
	}
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return errors.Wrap(err, "failed to write embedding file")
	}
	return nil
}

// ReadEmbedding reads a vector written by WriteEmbedding.
func ReadEmbedding(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedding file")
	}
	if len(data) == 0 {
		return nil, errors.New("embedding file is empty")
	}
	if len(data)%8 != 0 {
		return nil, errors.Errorf("invalid embedding file size: %d (not a multiple of 8)", len(data))
	}
	vec := make([]float64, len(data)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return vec, nil
}

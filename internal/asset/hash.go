package asset

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	hashCacheSize = 4096
	// racyWindow covers the coarsest common mtime granularity (FAT).
	racyWindow = 2 * time.Second
)

// hashes memoizes file content hashes keyed by path, mtime and size so
// unchanged files are not re-read between watch cycles. Files modified
// within racyWindow of the lookup are never memoized: a same-size edit in
// the same mtime tick would otherwise keep the old hash.
var hashes, _ = lru.New[string, string](hashCacheSize)

func memoKey(path string, info os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", path, info.ModTime().UnixNano(), info.Size())
}

// ContentHash returns the 16 hex character xxhash64 of content.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// Hash returns the content hash of the file.
func (f *File) Hash() (string, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", f.Path, err)
	}

	key := memoKey(f.Path, info)
	settled := time.Since(info.ModTime()) > racyWindow
	if settled {
		if sum, ok := hashes.Get(key); ok {
			return sum, nil
		}
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	sum := ContentHash(data)
	if settled {
		hashes.Add(key, sum)
	}

	return sum, nil
}

// HashedName returns name with the content hash of content inserted before
// its extension when hashing is on.
func HashedName(name string, content []byte, hashing bool) string {
	if !hashing {
		return name
	}
	ext := filepath.Ext(name)

	return strings.TrimSuffix(name, ext) + "-" + ContentHash(content) + ext
}

// Integrity returns a subresource integrity value for content. Kind "none"
// or "" yields the empty string.
func Integrity(kind string, content []byte) (string, error) {
	var h hash.Hash

	switch kind {
	case "", "none":
		return "", nil
	case "sha256":
		h = sha256.New()
	case "sha384":
		h = sha512.New384()
	case "sha512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported integrity kind %q", kind)
	}

	h.Write(content)

	return kind + "-" + base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

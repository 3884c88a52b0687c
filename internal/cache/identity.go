package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// ManifestFile is the manifest name inside a project cache directory.
	ManifestFile = "build_cache.manifest_v1"
	// BlobFile is the blob database name inside a project cache directory.
	BlobFile = "build_cache.db"
)

var machineIDFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// MachineID identifies the host a cache was written on.
func MachineID() string {
	for _, path := range machineIDFiles {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return "host:" + host
	}
	return "unknown"
}

// DefaultRoot is the user cache directory.
func DefaultRoot() (string, error) {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return dir, nil
	}
	return os.UserCacheDir()
}

// Dir is the cache directory of a project below root.
func Dir(root, projectID string) string {
	return filepath.Join(root, "litweave", projectID)
}

// ProjectID derives a stable project identifier from document front matter.
// A repo_url wins over a title; the last repo_url seen wins. Without either,
// the identity is the absolute path of fallbackDir.
func ProjectID(frontMatter []map[string]any, fallbackDir string) string {
	var prefix, data string
	for _, meta := range frontMatter {
		if url, ok := meta["repo_url"].(string); ok && url != "" {
			prefix, data = slug(url, false), url
			continue
		}
		if title, ok := meta["title"].(string); ok && title != "" && data == "" {
			prefix, data = slug(title, true), title
		}
	}
	if data == "" {
		abs, err := filepath.Abs(fallbackDir)
		if err != nil {
			abs = fallbackDir
		}
		prefix, data = slug(filepath.Base(abs), true), abs
	}
	if prefix == "" {
		prefix = "project"
	}
	sum := sha1.Sum([]byte(data))
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(sum[:])[:12])
}

// slug keeps letters, digits, dots and dashes and maps every other rune to
// an underscore.
func slug(s string, lower bool) string {
	if lower {
		s = strings.ToLower(s)
	}
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-') {
			return r
		}
		return '_'
	}, strings.TrimSpace(s))
}

package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/shlex"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/fsutil"
	"github.com/vk/litweave/internal/session"
	"github.com/vk/litweave/internal/task"
)

// DefaultLockTimeout bounds how long Open waits for the blob store lock.
const DefaultLockTimeout = time.Second

// Cache is the result cache of one build. It is safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	dir          string // empty for caches that are never persisted
	manifestPath string

	entries []Entry

	// taskKeys, digests and requiredBy are indexed by identifier. They start
	// empty and are filled as identifiers produce output.
	taskKeys   map[string]string
	digests    map[string]string
	requiredBy map[string]map[string]struct{}

	blobs       BlobStore
	codec       Codec
	now         func() time.Time
	machineID   string
	lockTimeout time.Duration
	workDir     string
	closed      bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithCodec sets the codec new blobs are written with.
func WithCodec(c Codec) Option {
	return func(cc *Cache) { cc.codec = c }
}

// WithClock sets the clock used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(cc *Cache) { cc.now = now }
}

// WithMachineID overrides the detected machine identifier.
func WithMachineID(id string) Option {
	return func(cc *Cache) { cc.machineID = id }
}

// WithLockTimeout sets how long Open waits for the blob store lock.
func WithLockTimeout(d time.Duration) Option {
	return func(cc *Cache) { cc.lockTimeout = d }
}

// WithWorkDir sets the directory that relative command paths in session
// keys are resolved against. It must match the sessions' working directory.
func WithWorkDir(dir string) Option {
	return func(cc *Cache) { cc.workDir = dir }
}

func newCache(opts ...Option) *Cache {
	c := &Cache{
		taskKeys:    make(map[string]string),
		digests:     make(map[string]string),
		requiredBy:  make(map[string]map[string]struct{}),
		codec:       noneCodec{},
		now:         time.Now,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.machineID == "" {
		c.machineID = MachineID()
	}
	return c
}

// NewMemory creates a cache that is never written to disk.
func NewMemory(opts ...Option) *Cache {
	c := newCache(opts...)
	c.blobs = NewMemoryStore()
	return c
}

// Open loads the cache persisted in dir, creating it if needed.
//
// Corruption is never fatal: an unreadable manifest or blob store is moved
// aside and the build starts cold. A blob store locked by another build
// degrades to an in-memory store for this run.
func Open(ctx context.Context, dir string, opts ...Option) (*Cache, error) {
	logger := ctxlog.FromContext(ctx)
	c := newCache(opts...)
	c.dir = dir
	c.manifestPath = filepath.Join(dir, ManifestFile)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, lperrors.Wrap(lperrors.EIO, "failed to create cache directory", err)
	}

	c.entries = c.loadManifest(ctx)
	c.blobs = c.openBlobs(ctx)

	stored, err := c.blobs.MachineID()
	if err != nil {
		logger.Warn("Failed to read cache machine id.", "error", err)
	}
	if stored != "" && stored != c.machineID {
		logger.Warn("Cache was written on another machine, starting cold.", "dir", dir, "stored", stored, "current", c.machineID)
		if err := c.blobs.Clear(); err != nil {
			logger.Warn("Failed to clear blob store.", "error", err)
		}
		c.entries = nil
	}
	if stored != c.machineID {
		if err := c.blobs.SetMachineID(c.machineID); err != nil {
			logger.Warn("Failed to record cache machine id.", "error", err)
		}
	}

	logger.Debug("Result cache opened.", "dir", dir, "entries", len(c.entries), "codec", c.codec.Name())
	return c, nil
}

func (c *Cache) loadManifest(ctx context.Context) []Entry {
	logger := ctxlog.FromContext(ctx)
	data, err := os.ReadFile(c.manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		logger.Warn("Failed to read cache manifest, starting cold.", "path", c.manifestPath, "error", err)
		return nil
	}
	entries, err := Parse(string(data))
	if err != nil {
		cerr := lperrors.Wrap(lperrors.ECacheCorrupt, "unreadable cache manifest", err)
		logger.Warn("Cache manifest is corrupt, starting cold.", "path", c.manifestPath, "error", cerr)
		moveAside(ctx, c.manifestPath, c.now())
		return nil
	}
	return entries
}

func (c *Cache) openBlobs(ctx context.Context) BlobStore {
	logger := ctxlog.FromContext(ctx)
	path := filepath.Join(c.dir, BlobFile)

	store, err := openBoltStore(path, c.lockTimeout)
	if errors.Is(err, errLocked) {
		logger.Warn("Blob store is in use by another build, caching in memory for this run.", "path", path)
		return NewMemoryStore()
	}
	if err != nil {
		cerr := lperrors.Wrap(lperrors.ECacheCorrupt, "unreadable blob store", err)
		logger.Warn("Blob store is corrupt, starting cold.", "path", path, "error", cerr)
		moveAside(ctx, path, c.now())
		c.entries = nil
		if store, err = openBoltStore(path, c.lockTimeout); err != nil {
			logger.Warn("Failed to recreate blob store, caching in memory for this run.", "path", path, "error", err)
			return NewMemoryStore()
		}
	}
	return store
}

// moveAside renames a corrupt file out of the way.
func moveAside(ctx context.Context, path string, now time.Time) {
	dst := fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
	if err := os.Rename(path, dst); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to move corrupt cache file aside.", "path", path, "error", err)
	}
}

// Dir is the directory the cache persists to, empty for memory caches.
func (c *Cache) Dir() string {
	return c.dir
}

// Entries returns a copy of the manifest entries.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

var pythonModule = regexp.MustCompile(`python[23]? -m ([\w.]+)`)

// pathTokens are the command tokens that may name files the command reads.
func pathTokens(command string) []string {
	tokens, err := shlex.Split(command)
	if err != nil {
		tokens = strings.Fields(command)
	}
	if m := pythonModule.FindStringSubmatch(command); m != nil {
		mod := strings.ReplaceAll(m[1], ".", "/") + ".py"
		tokens = append(tokens, mod, "src/"+mod)
	}
	return tokens
}

// TaskKey is the dependency-sensitive key of a task. It covers the document
// path, the content and the bound key of every dependency. Session keys also
// cover the command and the mtimes of the files it names.
func (c *Cache) TaskKey(t *task.Task) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskKey(t)
}

func (c *Cache) taskKey(t *task.Task) string {
	h := sha1.New()
	writePart(h, t.Namespace())

	if s, ok := t.Payload.(task.Session); ok {
		command := s.Command.String()
		writePart(h, command)
		for _, p := range pathTokens(command) {
			if !filepath.IsAbs(p) && c.workDir != "" {
				p = filepath.Join(c.workDir, p)
			}
			if info, err := os.Stat(p); err == nil {
				writePart(h, strconv.FormatInt(info.ModTime().UnixNano(), 10))
			}
		}
	}
	writePart(h, t.Content())

	deps := append([]string(nil), t.Deps...)
	sort.Strings(deps)
	for _, dep := range deps {
		writePart(h, dep)
		writePart(h, c.taskKeys[dep])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writePart length-prefixes p so that adjacent parts cannot run together.
func writePart(h hash.Hash, p string) {
	fmt.Fprintf(h, "%d:%s", len(p), p)
}

// Get returns the most recent capture stored under the task's key.
func (c *Cache) Get(ctx context.Context, t *task.Task) (*session.Capture, bool) {
	logger := ctxlog.FromContext(ctx)
	c.mu.Lock()
	key := c.taskKey(t)
	var entry *Entry
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].TaskKey == key {
			e := c.entries[i]
			entry = &e
			break
		}
	}
	c.mu.Unlock()

	if entry == nil {
		logger.Debug("Cache miss.", "lpid", t.ID, "task_key", key)
		return nil, false
	}
	blob, ok, err := c.blobs.Get(entry.CaptureDigest)
	if err != nil || !ok {
		logger.Debug("Cache entry without blob.", "lpid", t.ID, "digest", entry.CaptureDigest, "error", err)
		return nil, false
	}
	data, err := decodeBlob(blob)
	if err != nil {
		logger.Warn("Failed to decompress cached capture.", "lpid", t.ID, "digest", entry.CaptureDigest, "error", err)
		return nil, false
	}
	capture, err := session.Unmarshal(data)
	if err != nil {
		logger.Warn("Failed to decode cached capture.", "lpid", t.ID, "digest", entry.CaptureDigest, "error", err)
		return nil, false
	}
	logger.Debug("Cache hit.", "lpid", t.ID, "task_key", key, "created", entry.Created)
	return capture, true
}

// Update stores a fresh capture of a task and appends its manifest entry.
func (c *Cache) Update(ctx context.Context, t *task.Task, capture *session.Capture) error {
	data, err := capture.Marshal()
	if err != nil {
		return err
	}
	digest := session.Digest(data)
	blob, err := encodeBlob(c.codec, data)
	if err != nil {
		return fmt.Errorf("failed to compress capture: %w", err)
	}
	if err := c.blobs.Put(digest, blob); err != nil {
		return lperrors.Wrap(lperrors.EIO, "failed to store capture", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry := Entry{
		Created:       c.now().UTC().Format(TimeLayout),
		RuntimeMS:     int(math.Round(float64(capture.Runtime) / float64(time.Millisecond))),
		CaptureSize:   len(data),
		CaptureDigest: digest,
		TaskKey:       c.taskKey(t),
		DocPath:       url.PathEscape(t.Namespace()),
		Description:   t.Description(),
	}
	if entry.DocPath == "" {
		entry.DocPath = "-"
	}
	if err := entry.Validate(); err != nil {
		return lperrors.Wrap(lperrors.EInternal, "invalid manifest entry", err)
	}
	c.entries = append(c.entries, entry)
	ctxlog.FromContext(ctx).Debug("Capture cached.",
		"lpid", t.ID,
		"digest", digest,
		"size", humanize.Bytes(uint64(len(data))),
		"stored", humanize.Bytes(uint64(len(blob))),
	)
	c.bind(t, digest)
	return nil
}

// Bind records the output digest of a finished identifier. When the digest
// differs from the one previously bound, the keys of every identifier that
// depends on it are forgotten, transitively.
func (c *Cache) Bind(t *task.Task, digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bind(t, digest)
}

func (c *Cache) bind(t *task.Task, digest string) {
	for _, dep := range t.Deps {
		set, ok := c.requiredBy[dep]
		if !ok {
			set = make(map[string]struct{})
			c.requiredBy[dep] = set
		}
		set[t.ID] = struct{}{}
	}
	if c.digests[t.ID] != digest {
		c.forgetDependents(t.ID, make(map[string]bool))
	}
	c.digests[t.ID] = digest
	c.taskKeys[t.ID] = c.taskKey(t)
}

func (c *Cache) forgetDependents(id string, seen map[string]bool) {
	for dependent := range c.requiredBy[id] {
		if seen[dependent] {
			continue
		}
		seen[dependent] = true
		delete(c.taskKeys, dependent)
		c.forgetDependents(dependent, seen)
	}
}

// BoundKey returns the task key currently bound to an identifier.
func (c *Cache) BoundKey(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.taskKeys[id]
	return key, ok
}

// Flush sorts the manifest, verifies that it parses back to the same
// entries, replaces the manifest file atomically and closes the blob store.
// The cache cannot be used after Flush.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	SortEntries(c.entries)
	text, err := verifyRoundTrip(c.entries)
	if err != nil {
		return lperrors.Wrap(lperrors.EInternal, "refusing to write manifest", err)
	}

	if c.manifestPath != "" {
		if err := fsutil.WriteFileAtomic(c.manifestPath, []byte(text), 0o644); err != nil {
			return lperrors.Wrap(lperrors.EIO, "failed to write cache manifest", err)
		}
		ctxlog.FromContext(ctx).Debug("Cache manifest written.", "path", c.manifestPath, "entries", len(c.entries))
	}

	c.closed = true
	if err := c.blobs.Close(); err != nil {
		return lperrors.Wrap(lperrors.EIO, "failed to close blob store", err)
	}
	return nil
}

// ReadManifest parses the manifest persisted in dir without opening the
// blob store.
func ReadManifest(dir string) ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Package cache holds initialized generation pipelines keyed by model
// location, model version and device so repeated requests reuse one loaded
// instance instead of reloading the checkpoint.
//
// Entries are never evicted. The number of distinct (path, version, device)
// combinations in one running process is small, and reloading a model costs
// far more than keeping it resident.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/metrics"
	"github.com/book-expert/music-service/internal/music/device"
	"golang.org/x/sync/singleflight"
)

// ErrModelPathEmpty indicates that no model path was given for a cache key.
var ErrModelPathEmpty = errors.New("model path cannot be empty")

// Key identifies one pipeline instance.
type Key struct {
	ModelPath string
	Version   string
	Device    core.Device
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.ModelPath, k.Version, k.Device)
}

// NewKey builds a Key from the canonical absolute form of modelPath, so that
// different spellings of the same directory collide.
func NewKey(modelPath, version string, dev core.Device) (Key, error) {
	canonical, err := CanonicalPath(modelPath)
	if err != nil {
		return Key{}, err
	}

	return Key{ModelPath: canonical, Version: version, Device: dev}, nil
}

// CanonicalPath returns the absolute, cleaned form of path with symlinks
// resolved when the path exists.
func CanonicalPath(path string) (string, error) {
	if path == "" {
		return "", ErrModelPathEmpty
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve model path '%s': %w", path, err)
	}

	resolved, evalErr := filepath.EvalSymlinks(absolute)
	if evalErr != nil {
		return absolute, nil
	}

	return resolved, nil
}

// Cache owns every pipeline it constructs. Callers borrow the returned
// pipeline per request and must not close it.
type Cache struct {
	factory core.PipelineFactory
	log     *logger.Logger

	mu      sync.Mutex
	entries map[Key]core.Pipeline

	loads singleflight.Group
}

// New creates an empty Cache that builds pipelines with factory.
func New(factory core.PipelineFactory, log *logger.Logger) *Cache {
	return &Cache{
		factory: factory,
		log:     log,
		entries: make(map[Key]core.Pipeline),
	}
}

// GetOrCreate returns the pipeline for (modelPath, version, dev), constructing
// it on the first request for that key. dev must already be resolved; the
// precision is derived from it. Concurrent misses on the same key share a
// single construction and the cache lock is never held while a pipeline
// loads. A caller whose ctx ends stops waiting without cancelling the load
// for the others. Failed constructions are not cached.
func (c *Cache) GetOrCreate(
	ctx context.Context,
	modelPath, version string,
	dev core.Device,
) (core.Pipeline, error) {
	key, err := NewKey(modelPath, version, dev)
	if err != nil {
		return nil, err
	}

	if pipeline, ok := c.lookup(key); ok {
		metrics.RecordCacheHit()

		return pipeline, nil
	}

	metrics.RecordCacheMiss()

	// The load outlives any single waiter; each waiter gives up on its own ctx.
	loadCtx := context.WithoutCancel(ctx)

	results := c.loads.DoChan(key.String(), func() (any, error) {
		if pipeline, ok := c.lookup(key); ok {
			return pipeline, nil
		}

		return c.load(loadCtx, key)
	})

	var result singleflight.Result

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("gave up waiting for pipeline '%s': %w", key.ModelPath, ctx.Err())
	case result = <-results:
	}

	if result.Err != nil {
		return nil, result.Err
	}

	pipeline, ok := result.Val.(core.Pipeline)
	if !ok {
		return nil, fmt.Errorf("unexpected pipeline type %T for %s", result.Val, key)
	}

	return pipeline, nil
}

func (c *Cache) lookup(key Key) (core.Pipeline, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pipeline, ok := c.entries[key]

	return pipeline, ok
}

func (c *Cache) load(ctx context.Context, key Key) (core.Pipeline, error) {
	cfg := core.PipelineConfig{
		PretrainedPath: key.ModelPath,
		Device:         key.Device,
		DType:          device.PrecisionFor(key.Device),
		Version:        key.Version,
	}

	c.log.Info("Loading pipeline: path=%s version=%s device=%s dtype=%s",
		cfg.PretrainedPath, cfg.Version, cfg.Device, cfg.DType)

	start := time.Now()

	pipeline, err := c.factory.NewPipeline(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline for '%s': %w", key.ModelPath, err)
	}

	elapsed := time.Since(start)
	metrics.ObservePipelineLoad(key.Version, string(key.Device), elapsed)

	c.mu.Lock()
	c.entries[key] = pipeline
	loaded := len(c.entries)
	c.mu.Unlock()

	metrics.SetPipelinesLoaded(loaded)
	c.log.Info("Pipeline loaded in %s (%d cached)", elapsed.Round(time.Millisecond), loaded)

	return pipeline, nil
}

// Len returns the number of cached pipelines.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Keys returns the cached keys in a stable order.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.entries))

	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	return keys
}

// Close releases every cached pipeline that holds resources. It is meant for
// process shutdown; the cache is empty afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[Key]core.Pipeline)
	c.mu.Unlock()

	metrics.SetPipelinesLoaded(0)

	var errs []error

	for key, pipeline := range entries {
		closer, ok := pipeline.(io.Closer)
		if !ok {
			continue
		}

		closeErr := closer.Close()
		if closeErr != nil {
			c.log.Warn("Failed to close pipeline %s: %v", key, closeErr)
			errs = append(errs, fmt.Errorf("failed to close pipeline %s: %w", key, closeErr))
		}
	}

	return errors.Join(errs...)
}

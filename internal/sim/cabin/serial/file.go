package serial

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/mutex/v2"

	"shipcabin.ai/internal/sim/cabin/model"
)

const (
	lockDelay   = 5 * time.Millisecond
	lockTimeout = 5 * time.Second
)

// FileCounter keeps the counter as decimal text in a single file, the layout
// operators already know from ship-serial.txt. The read-modify-write runs under an
// in-process mutex plus a named machine-wide lock, and the new value is published
// with an atomic rename.
type FileCounter struct {
	path     string
	lockName string

	mu sync.Mutex
}

func NewFileCounter(path string) *FileCounter {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	return &FileCounter{
		path:     path,
		lockName: "cabin-serial-" + hex.EncodeToString(sum[:8]),
	}
}

func (c *FileCounter) Path() string { return c.path }

func (c *FileCounter) Allocate(ctx context.Context) (uint64, error) {
	var next uint64
	err := c.withLock(ctx, func() error {
		cur, err := c.read()
		if err != nil {
			return err
		}
		next = cur + 1
		return c.write(next)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (c *FileCounter) Peek(ctx context.Context) (uint64, error) {
	var cur uint64
	err := c.withLock(ctx, func() error {
		v, err := c.read()
		cur = v
		return err
	})
	return cur, err
}

func (c *FileCounter) Set(ctx context.Context, v uint64) error {
	return c.withLock(ctx, func() error { return c.write(v) })
}

func (c *FileCounter) withLock(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := mutex.Acquire(mutex.Spec{
		Name:    c.lockName,
		Clock:   wallClock{},
		Delay:   lockDelay,
		Timeout: lockTimeout,
		Cancel:  ctx.Done(),
	})
	if err != nil {
		return &model.ConfigError{What: "lock serial counter", Path: c.path, Err: err}
	}
	defer r.Release()
	return fn()
}

// read returns 0 for a missing file; anything unparsable is a configuration error
// because resetting would reuse serials of existing cabins.
func (c *FileCounter) read() (uint64, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, &model.ConfigError{What: "read serial counter", Path: c.path, Err: err}
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, &model.ConfigError{What: "serial counter is empty", Path: c.path}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &model.ConfigError{What: "serial counter is corrupt", Path: c.path, Err: err}
	}
	return v, nil
}

func (c *FileCounter) write(v uint64) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return &model.ConfigError{What: "create serial directory", Path: c.path, Err: err}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(v, 10)), 0o644); err != nil {
		return &model.ConfigError{What: "write serial counter", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return &model.ConfigError{What: "publish serial counter", Path: c.path, Err: err}
	}
	return nil
}

type wallClock struct{}

func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (wallClock) Now() time.Time                         { return time.Now() }

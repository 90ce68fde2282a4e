// Package tempfiles owns the private temporary directory downloads are
// written to, and makes sure every file placed there is eventually deleted.
//
// A tracked file is deleted either right after it has been streamed to the
// client, or by the periodic sweep once it is older than the TTL. A deletion
// that keeps failing moves the file to a pending queue which is retried once
// at shutdown.
package tempfiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

const (
	dirPattern = "media_downloader-*"

	triggerImmediate = "immediate"
	triggerSweep     = "sweep"
	triggerShutdown  = "shutdown"
	triggerReclaim   = "reclaim"

	resultDeleted   = "deleted"
	resultExhausted = "exhausted"
	resultFailed    = "failed"

	alertTimeout = 10 * time.Second
)

// ErrDeleteExhausted is returned when a file could not be deleted within the
// retry budget. The file is then in the pending queue.
var ErrDeleteExhausted = errors.New("temporary file deletion exhausted")

// Config controls retention and deletion retries.
type Config struct {
	BaseDir        string // parent of the private directory; os.TempDir() when empty
	TTL            time.Duration
	SweepInterval  time.Duration
	DeleteAttempts int
	RetryDelay     time.Duration
}

// Alerter is told about files that could not be deleted.
type Alerter interface {
	Notify(ctx context.Context, content string) error
}

// Option configures optional collaborators of a Manager.
type Option func(*Manager)

// WithJournal persists tracked files so they can be reclaimed after a crash.
// owner identifies this process in the journal.
func WithJournal(repo storage.FileRepository, owner string) Option {
	return func(m *Manager) {
		m.journal = repo
		m.owner = owner
	}
}

// WithAlerter sets where retry-exhausted deletions are reported.
func WithAlerter(a Alerter) Option {
	return func(m *Manager) {
		m.alerter = a
	}
}

// WithTelemetry records deletions and registry sizes.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(m *Manager) {
		m.telemetry = tel
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager tracks temporary files and deletes them.
type Manager struct {
	cfg       Config
	dir       string
	owner     string
	journal   storage.FileRepository
	alerter   Alerter
	telemetry *telemetry.Telemetry

	mu      sync.Mutex
	tracked map[string]time.Time
	pending map[string]struct{}

	wg sync.WaitGroup

	now    func() time.Time
	remove func(path string) error
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates the private temporary directory and returns a Manager for it.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.DeleteAttempts < 1 {
		cfg.DeleteAttempts = 1
	}

	dir, err := os.MkdirTemp(cfg.BaseDir, dirPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}

	m := &Manager{
		cfg:     cfg,
		dir:     dir,
		tracked: make(map[string]time.Time),
		pending: make(map[string]struct{}),
		now:     time.Now,
		remove:  os.Remove,
		sleep:   sleepContext,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Dir is the private directory downloads are written to.
func (m *Manager) Dir() string {
	return m.dir
}

// Track registers path for deletion. Tracking a path twice keeps its first
// timestamp.
func (m *Manager) Track(ctx context.Context, path string) {
	logger := logctx.LoggerFromContext(ctx).With("component", "tempfiles")

	m.mu.Lock()

	createdAt, ok := m.tracked[path]
	if !ok {
		createdAt = m.now()
		m.tracked[path] = createdAt
	}

	_, wasPending := m.pending[path]
	delete(m.pending, path)

	m.mu.Unlock()

	if !ok {
		m.telemetry.AddTrackedTempFiles(ctx, 1)
	}

	if wasPending {
		m.telemetry.AddPendingTempFiles(ctx, -1)
	}

	logger.Debug("tracking temporary file", "path", path, "created_at", createdAt)

	if m.journal == nil {
		return
	}

	rec := storage.FileRecord{Path: path, Dir: m.dir, CreatedAt: createdAt, Owner: m.owner}
	if err := m.journal.TrackFile(ctx, rec); err != nil {
		logger.Error("failed to journal temporary file", "path", path, "err", err)
		m.telemetry.RecordSystemError(ctx, "tempfiles", "journal")
	}
}

// Delete removes path now, retrying on failure. A file that is already gone
// counts as deleted. When every attempt fails the file moves to the pending
// queue and ErrDeleteExhausted is returned.
func (m *Manager) Delete(ctx context.Context, path string) error {
	return m.deleteWithRetry(ctx, path, triggerImmediate)
}

// DeleteAsync runs Delete in the background. Shutdown waits for it.
func (m *Manager) DeleteAsync(ctx context.Context, path string) {
	ctx = context.WithoutCancel(ctx)

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		_ = m.Delete(ctx, path)
	}()
}

// Sweep deletes every tracked file older than the TTL and returns how many
// were deleted.
func (m *Manager) Sweep(ctx context.Context) int {
	logger := logctx.LoggerFromContext(ctx).With("component", "tempfiles")

	cutoff := m.now().Add(-m.cfg.TTL)

	m.mu.Lock()

	var expired []string

	for path, createdAt := range m.tracked {
		if createdAt.Before(cutoff) {
			expired = append(expired, path)
		}
	}

	m.mu.Unlock()

	sort.Strings(expired)

	deleted := 0

	for _, path := range expired {
		if ctx.Err() != nil {
			break
		}

		if err := m.deleteWithRetry(ctx, path, triggerSweep); err == nil {
			deleted++
		}
	}

	if len(expired) > 0 {
		logger.Info("temporary file sweep finished", "expired", len(expired), "deleted", deleted)
	}

	return deleted
}

// Run sweeps on every tick of the sweep interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "tempfiles")

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	logger.Info("temporary file sweeper started", "dir", m.dir, "ttl", m.cfg.TTL, "interval", m.cfg.SweepInterval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("temporary file sweeper stopped")

			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Shutdown waits for background deletions, makes one last attempt on every
// pending file and removes the private directory.
func (m *Manager) Shutdown(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "tempfiles")

	var waitErr error

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("waiting for background deletions: %w", ctx.Err())
		logger.Warn("gave up waiting for background deletions", "err", ctx.Err())
	}

	for _, path := range m.Pending() {
		if err := m.removeFile(path); err != nil {
			logger.Error("failed to delete pending file at shutdown", "path", path, "err", err)
			m.telemetry.RecordTempFileDeletion(ctx, triggerShutdown, resultFailed)

			continue
		}

		m.forget(ctx, path)
		m.telemetry.RecordTempFileDeletion(ctx, triggerShutdown, resultDeleted)
		logger.Info("deleted pending file at shutdown", "path", path)
	}

	if err := os.RemoveAll(m.dir); err != nil {
		logger.Warn("failed to remove temporary directory", "dir", m.dir, "err", err)
	}

	m.mu.Lock()
	tracked := len(m.tracked)
	m.tracked = make(map[string]time.Time)
	m.mu.Unlock()

	m.telemetry.AddTrackedTempFiles(ctx, -int64(tracked))

	m.forgetMissing(ctx)

	return waitErr
}

// Reclaim deletes files journaled by other instances, which did not get to
// clean up after themselves. It returns how many rows were reclaimed.
func (m *Manager) Reclaim(ctx context.Context) (int, error) {
	if m.journal == nil {
		return 0, nil
	}

	logger := logctx.LoggerFromContext(ctx).With("component", "tempfiles")

	stale, err := m.journal.StaleFiles(ctx, m.owner)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale temporary files: %w", err)
	}

	reclaimed := 0

	for _, rec := range stale {
		if err := m.removeFile(rec.Path); err != nil {
			logger.Warn("failed to reclaim stale file", "path", rec.Path, "owner", rec.Owner, "err", err)
			m.telemetry.RecordTempFileDeletion(ctx, triggerReclaim, resultFailed)

			continue
		}

		// only succeeds once the directory is empty
		if rec.Dir != "" {
			_ = os.Remove(rec.Dir)
		}

		if err := m.journal.ForgetFile(ctx, rec.Path); err != nil {
			logger.Error("failed to drop journal row", "path", rec.Path, "err", err)

			continue
		}

		reclaimed++

		m.telemetry.RecordTempFileDeletion(ctx, triggerReclaim, resultDeleted)
	}

	if len(stale) > 0 {
		logger.Info("reclaimed stale temporary files", "found", len(stale), "reclaimed", reclaimed)
	}

	return reclaimed, nil
}

// Tracked returns the tracked paths, sorted.
func (m *Manager) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedKeys(m.tracked)
}

// Pending returns the paths waiting for the shutdown attempt, sorted.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedKeys(m.pending)
}

func (m *Manager) IsTracked(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.tracked[path]

	return ok
}

func (m *Manager) IsPending(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.pending[path]

	return ok
}

func (m *Manager) deleteWithRetry(ctx context.Context, path, trigger string) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "tempfiles", "path", path, "trigger", trigger)

	var err error

	for attempt := 1; attempt <= m.cfg.DeleteAttempts; attempt++ {
		if err = m.removeFile(path); err == nil {
			m.forget(ctx, path)
			m.telemetry.RecordTempFileDeletion(ctx, trigger, resultDeleted)
			logger.Debug("deleted temporary file", "attempt", attempt)

			return nil
		}

		logger.Warn("failed to delete temporary file", "attempt", attempt, "max_attempts", m.cfg.DeleteAttempts, "err", err)

		if attempt == m.cfg.DeleteAttempts {
			break
		}

		if waitErr := m.sleep(ctx, m.cfg.RetryDelay); waitErr != nil {
			err = errors.Join(err, waitErr)

			break
		}
	}

	m.deferToShutdown(ctx, path, err)
	m.telemetry.RecordTempFileDeletion(ctx, trigger, resultExhausted)

	return fmt.Errorf("%w: %s: %w", ErrDeleteExhausted, path, err)
}

func (m *Manager) removeFile(path string) error {
	if err := m.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// forget drops path from the registry and the journal.
func (m *Manager) forget(ctx context.Context, path string) {
	m.mu.Lock()

	_, wasTracked := m.tracked[path]
	delete(m.tracked, path)

	_, wasPending := m.pending[path]
	delete(m.pending, path)

	m.mu.Unlock()

	if wasTracked {
		m.telemetry.AddTrackedTempFiles(ctx, -1)
	}

	if wasPending {
		m.telemetry.AddPendingTempFiles(ctx, -1)
	}

	if m.journal == nil {
		return
	}

	if err := m.journal.ForgetFile(ctx, path); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to drop journal row", "component", "tempfiles", "path", path, "err", err)
	}
}

// deferToShutdown moves path from the tracked set to the pending queue.
func (m *Manager) deferToShutdown(ctx context.Context, path string, cause error) {
	logger := logctx.LoggerFromContext(ctx).With("component", "tempfiles")

	m.mu.Lock()

	_, wasTracked := m.tracked[path]
	delete(m.tracked, path)

	_, wasPending := m.pending[path]
	m.pending[path] = struct{}{}

	m.mu.Unlock()

	if wasTracked {
		m.telemetry.AddTrackedTempFiles(ctx, -1)
	}

	if !wasPending {
		m.telemetry.AddPendingTempFiles(ctx, 1)
	}

	logger.Error("giving up on temporary file until shutdown", "path", path, "attempts", m.cfg.DeleteAttempts, "err", cause)

	if m.alerter == nil || wasPending {
		return
	}

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()

	msg := fmt.Sprintf("media_downloader could not delete %s after %d attempts: %v", path, m.cfg.DeleteAttempts, cause)
	if err := m.alerter.Notify(alertCtx, msg); err != nil {
		logger.Warn("failed to send deletion alert", "err", err)
	}
}

// forgetMissing drops this instance's journal rows whose files are gone.
func (m *Manager) forgetMissing(ctx context.Context) {
	if m.journal == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx).With("component", "tempfiles")

	files, err := m.journal.Files(ctx)
	if err != nil {
		logger.Warn("failed to list journal at shutdown", "err", err)

		return
	}

	for _, rec := range files {
		if rec.Owner != m.owner {
			continue
		}

		if _, err := os.Stat(rec.Path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err := m.journal.ForgetFile(ctx, rec.Path); err != nil {
			logger.Warn("failed to drop journal row", "path", rec.Path, "err", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

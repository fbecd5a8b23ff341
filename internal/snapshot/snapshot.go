package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/familyguard/internal"
	snapshotDatamodel "github.com/frahmantamala/familyguard/internal/core/datamodel/snapshot"
)

const DefaultRetain = 24

// Exporter is implemented by every stateful component.
type Exporter interface {
	SnapshotKey() string
	Export() (json.RawMessage, error)
	Import(data json.RawMessage) error
}

// Snapshot is a generic key-value image of the core's state.
type Snapshot struct {
	ID        string                     `json:"id"`
	Reason    string                     `json:"reason"`
	CreatedAt time.Time                  `json:"created_at"`
	Entries   map[string]json.RawMessage `json:"entries"`
}

func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Entries))
	for k := range s.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type RepositoryAPI interface {
	Save(ctx context.Context, s *snapshotDatamodel.StateSnapshot) error
	Latest(ctx context.Context) (*snapshotDatamodel.StateSnapshot, error)
	Get(ctx context.Context, id string) (*snapshotDatamodel.StateSnapshot, error)
	List(ctx context.Context, limit int) ([]*snapshotDatamodel.StateSnapshot, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

// Service exports and restores registered components. Import runs in
// registration order.
type Service struct {
	mu        sync.Mutex
	exporters []Exporter
	repo      RepositoryAPI
	retain    int
	logger    *slog.Logger
	now       func() time.Time

	stop     chan struct{}
	done     chan struct{}
	runOnce  sync.Once
	stopOnce sync.Once
}

type Option func(*Service)

func WithRepository(repo RepositoryAPI) Option {
	return func(s *Service) {
		s.repo = repo
	}
}

func WithRetain(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retain = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		retain: DefaultRetain,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Register(exporters ...Exporter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range exporters {
		for _, existing := range s.exporters {
			if existing.SnapshotKey() == e.SnapshotKey() {
				return internal.NewConflictError(fmt.Sprintf("snapshot key %s already registered", e.SnapshotKey()), internal.ErrCodeSnapshotKeyTaken)
			}
		}
		s.exporters = append(s.exporters, e)
	}
	return nil
}

func (s *Service) registered() []Exporter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exporter(nil), s.exporters...)
}

func (s *Service) Export(ctx context.Context, reason string) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.NewString(),
		Reason:    reason,
		CreatedAt: s.now().UTC(),
		Entries:   make(map[string]json.RawMessage),
	}
	for _, e := range s.registered() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := e.Export()
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", e.SnapshotKey(), err)
		}
		snap.Entries[e.SnapshotKey()] = data
	}
	return snap, nil
}

// Import restores every registered component present in snap. Components
// missing from snap keep their state; unknown keys are skipped.
func (s *Service) Import(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return internal.NewValidationError("snapshot is required", internal.ErrCodeValidationFailed)
	}

	known := make(map[string]struct{})
	for _, e := range s.registered() {
		key := e.SnapshotKey()
		known[key] = struct{}{}
		data, ok := snap.Entries[key]
		if !ok {
			s.logger.Warn("snapshot has no entry for component", "key", key, "snapshot_id", snap.ID)
			continue
		}
		if err := e.Import(data); err != nil {
			return fmt.Errorf("import %s: %w", key, err)
		}
	}
	for key := range snap.Entries {
		if _, ok := known[key]; !ok {
			s.logger.Warn("skipping unknown snapshot entry", "key", key, "snapshot_id", snap.ID)
		}
	}
	return nil
}

func (s *Service) requireRepo() error {
	if s.repo == nil {
		return internal.NewInternalError("snapshot repository is not configured", nil)
	}
	return nil
}

// Save exports current state, stores it and prunes old snapshots.
func (s *Service) Save(ctx context.Context, reason string) (*Snapshot, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	snap, err := s.Export(ctx, reason)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, ToModel(snap)); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	pruned, err := s.repo.Prune(ctx, s.retain)
	if err != nil {
		s.logger.Warn("failed to prune old snapshots", "error", err)
	}
	s.logger.Info("state snapshot saved", "snapshot_id", snap.ID, "reason", reason, "entries", len(snap.Entries), "pruned", pruned)
	return snap, nil
}

// RestoreLatest imports the newest stored snapshot. It reports false when
// nothing has been stored yet.
func (s *Service) RestoreLatest(ctx context.Context) (bool, error) {
	if err := s.requireRepo(); err != nil {
		return false, err
	}
	m, err := s.repo.Latest(ctx)
	if err != nil {
		return false, fmt.Errorf("load latest snapshot: %w", err)
	}
	if m == nil {
		return false, nil
	}
	if err := s.Import(ctx, FromModel(m)); err != nil {
		return false, err
	}
	s.logger.Info("state restored from snapshot", "snapshot_id", m.ID, "created_at", m.CreatedAt)
	return true, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, internal.NewNotFoundError(fmt.Sprintf("snapshot %s not found", id), internal.ErrCodeSnapshotNotFound)
	}
	return FromModel(m), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*snapshotDatamodel.StateSnapshot, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, limit)
}

// Start saves a snapshot every interval until Stop.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.runOnce.Do(func() {
		go s.run(ctx, interval)
	})
}

func (s *Service) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Save(ctx, "interval"); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.runOnce.Do(func() { close(s.done) })

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ToModel(snap *Snapshot) *snapshotDatamodel.StateSnapshot {
	m := &snapshotDatamodel.StateSnapshot{
		ID:         snap.ID,
		Reason:     snap.Reason,
		EntryCount: len(snap.Entries),
		CreatedAt:  snap.CreatedAt,
	}
	for _, key := range snap.Keys() {
		m.Entries = append(m.Entries, snapshotDatamodel.SnapshotEntry{
			SnapshotID: snap.ID,
			Key:        key,
			Payload:    string(snap.Entries[key]),
		})
	}
	return m
}

func FromModel(m *snapshotDatamodel.StateSnapshot) *Snapshot {
	snap := &Snapshot{
		ID:        m.ID,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
		Entries:   make(map[string]json.RawMessage, len(m.Entries)),
	}
	for _, e := range m.Entries {
		snap.Entries[e.Key] = json.RawMessage(e.Payload)
	}
	return snap
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// MemoryStore is an in-process Store backed by mutex-guarded maps, the same
// shape as the teacher's storage.MemoryStorage. It is used by worker/
// dispatcher unit tests and by single-process demo runs; production
// deployments use MongoStore.
type MemoryStore struct {
	mu          sync.RWMutex
	scans       map[string]models.Scan
	tasks       map[string]models.Task
	results     map[string]models.TaskResult
	tags        map[string]models.ScanTag
	topSites    map[string][]models.TopSitesEntry
	groundTruth map[string][]models.GroundTruthRow
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scans:       make(map[string]models.Scan),
		tasks:       make(map[string]models.Task),
		results:     make(map[string]models.TaskResult),
		tags:        make(map[string]models.ScanTag),
		topSites:    make(map[string][]models.TopSitesEntry),
		groundTruth: make(map[string][]models.GroundTruthRow),
	}
}

func (s *MemoryStore) SaveScan(_ context.Context, scan models.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[scan.ScanID] = scan
	return nil
}

func (s *MemoryStore) GetScan(_ context.Context, scanID string) (models.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return models.Scan{}, ErrNotFound
	}
	return scan, nil
}

// DeleteScan removes the scan and every task/result belonging to it. Blob
// cleanup for those results is the caller's responsibility (dispatcher
// coordinates store + blob store deletion, §7).
func (s *MemoryStore) DeleteScan(_ context.Context, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.scans, scanID)
	for taskID, task := range s.tasks {
		if task.ScanID == scanID {
			delete(s.tasks, taskID)
			delete(s.results, taskID)
		}
	}
	return nil
}

func (s *MemoryStore) SaveTask(_ context.Context, task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = task
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return task, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

func (s *MemoryStore) ListTasksByScan(_ context.Context, scanID string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Task, 0)
	for _, task := range s.tasks {
		if task.ScanID == scanID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListStuckTasks(_ context.Context, now time.Time, budget time.Duration) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Task, 0)
	for _, task := range s.tasks {
		if task.IsStuck(now, budget) {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result models.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.TaskID] = result
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, taskID string) (models.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[taskID]
	if !ok {
		return models.TaskResult{}, ErrNotFound
	}
	return result, nil
}

func (s *MemoryStore) ListResultsByScan(_ context.Context, scanID string) ([]models.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TaskResult, 0)
	for taskID, result := range s.results {
		task, ok := s.tasks[taskID]
		if ok && task.ScanID == scanID {
			out = append(out, result)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteResult(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, taskID)
	return nil
}

func (s *MemoryStore) SaveTag(_ context.Context, tag models.ScanTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[tag.TagName] = tag
	return nil
}

func (s *MemoryStore) GetTag(_ context.Context, tagName string) (models.ScanTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tag, ok := s.tags[tagName]
	if !ok {
		return models.ScanTag{}, ErrNotFound
	}
	return tag, nil
}

// SeedTopSites installs a ranked domain list for tests and demo runs; real
// deployments populate this collection out-of-band (§1 "out of scope").
func (s *MemoryStore) SeedTopSites(listID string, entries []models.TopSitesEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topSites[listID] = entries
}

// SeedGroundTruth installs a ground-truth row set for tests, analogous to
// SeedTopSites.
func (s *MemoryStore) SeedGroundTruth(gtID string, rows []models.GroundTruthRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groundTruth[gtID] = rows
}

func (s *MemoryStore) ListTopSitesRange(_ context.Context, listID string, offset, limit int) ([]models.TopSitesEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.topSites[listID]
	out := make([]models.TopSitesEntry, 0, limit)
	for _, e := range entries {
		if e.Rank >= offset && e.Rank < offset+limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) RankOf(_ context.Context, listID, domain string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.topSites[listID] {
		if e.Domain == domain {
			return e.Rank, true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) ListGroundTruth(_ context.Context, gtID string, offset, limit int) ([]models.GroundTruthRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.groundTruth[gtID]
	end := offset + limit
	if end > len(rows) || limit <= 0 {
		end = len(rows)
	}
	if offset > len(rows) {
		offset = len(rows)
	}
	out := make([]models.GroundTruthRow, len(rows[offset:end]))
	copy(out, rows[offset:end])
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/runenkrieg/internal/domain"
)

// memrepo keeps the ledger in process when no DATABASE_URL is configured.
type memrepo struct {
	mu     sync.RWMutex
	nextID int64
	byUUID map[string]*domain.TrainingRun
	runs   []*domain.TrainingRun
}

func NewMemory() Repository {
	return &memrepo{byUUID: make(map[string]*domain.TrainingRun)}
}

func (m *memrepo) InsertRun(_ context.Context, run *domain.TrainingRun) (int64, error) {
	if run == nil {
		return 0, ErrDuplicateRun
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byUUID[run.RunUUID]; exists {
		return 0, ErrDuplicateRun
	}
	m.nextID++
	cp := *run
	cp.ID = m.nextID
	m.byUUID[cp.RunUUID] = &cp
	m.runs = append(m.runs, &cp)
	return cp.ID, nil
}

func (m *memrepo) GetRun(_ context.Context, runUUID string) (*domain.TrainingRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.byUUID[runUUID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *memrepo) RecentRuns(_ context.Context, kind domain.RunKind, limit int) ([]*domain.TrainingRun, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*domain.TrainingRun, 0, len(m.runs))
	for _, r := range m.runs {
		if kind == "" || r.Kind == kind {
			cp := *r
			items = append(items, &cp)
		}
	}
	// EndedAt desc, then newest id
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

package store

import (
	"context"
	"slices"
	"sync"

	"github.com/handiism/podcast-downloader/internal/model"
)

// Memory is an in-process episode store.
type Memory struct {
	mu       sync.RWMutex
	episodes map[string]*model.Episode
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{episodes: make(map[string]*model.Episode)}
}

// Load returns a copy of the stored episode.
func (m *Memory) Load(_ context.Context, id string) (*model.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	episode, ok := m.episodes[id]
	if !ok {
		return nil, model.ErrEpisodeNotFound
	}
	return episode.Clone(), nil
}

// Save stores a copy of episode, replacing any previous version.
func (m *Memory) Save(_ context.Context, episode *model.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[episode.ID] = episode.Clone()
	return nil
}

// List returns copies of all stored episodes, optionally only those not
// downloaded yet, ordered by publication date.
func (m *Memory) List(_ context.Context, pendingOnly bool) ([]*model.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	episodes := make([]*model.Episode, 0, len(m.episodes))
	for _, episode := range m.episodes {
		if pendingOnly && episode.Downloaded {
			continue
		}
		episodes = append(episodes, episode.Clone())
	}
	slices.SortStableFunc(episodes, func(a, b *model.Episode) int {
		return a.PubDate.Compare(b.PubDate)
	})
	return episodes, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

package download

import (
	"context"

	"github.com/handiism/podcast-downloader/internal/model"
)

// Resolver maps an episode to the URL that is actually fetched. It lets
// platform-specific code turn a page URL into a direct media URL.
type Resolver interface {
	Resolve(ctx context.Context, episode *model.Episode) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, episode *model.Episode) (string, error)

// Resolve calls f(ctx, episode).
func (f ResolverFunc) Resolve(ctx context.Context, episode *model.Episode) (string, error) {
	return f(ctx, episode)
}

// Passthrough fetches the episode URL unchanged.
var Passthrough Resolver = ResolverFunc(func(_ context.Context, episode *model.Episode) (string, error) {
	return episode.URL, nil
})

// EpisodeStore is the authoritative source of episode state.
//
// Load returns model.ErrEpisodeNotFound for unknown IDs. Both methods work
// on copies; the engine never shares an Episode value with the store.
type EpisodeStore interface {
	Load(ctx context.Context, id string) (*model.Episode, error)
	Save(ctx context.Context, episode *model.Episode) error
}

// PostDownloadHook is invoked after an episode has been moved to its final path.
type PostDownloadHook interface {
	OnEpisodeDownloaded(ctx context.Context, episode *model.Episode, path string) error
}

// HookFunc adapts a function to the PostDownloadHook interface.
type HookFunc func(ctx context.Context, episode *model.Episode, path string) error

// OnEpisodeDownloaded calls f(ctx, episode, path).
func (f HookFunc) OnEpisodeDownloaded(ctx context.Context, episode *model.Episode, path string) error {
	return f(ctx, episode, path)
}

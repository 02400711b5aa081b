// Package app wires the download engine from settings. Both front ends
// use it so that a download started in one can be resumed in the other.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/handiism/podcast-downloader/internal/audio"
	"github.com/handiism/podcast-downloader/internal/config"
	"github.com/handiism/podcast-downloader/internal/download"
	"github.com/handiism/podcast-downloader/internal/hooks"
	"github.com/handiism/podcast-downloader/internal/http"
	"github.com/handiism/podcast-downloader/internal/model"
	"github.com/handiism/podcast-downloader/internal/store"
)

// Store is an EpisodeStore that can also list and close.
type Store interface {
	download.EpisodeStore
	List(ctx context.Context, pendingOnly bool) ([]*model.Episode, error)
	Close() error
}

// Engine bundles the long-lived parts of a download session.
type Engine struct {
	Settings *config.Live
	Client   *http.Client
	Store    Store
	Manager  *download.Manager
	Tracker  *download.Tracker
	Hooks    []download.PostDownloadHook
	Logger   zerolog.Logger

	resolver download.Resolver
}

// Options customise New.
type Options struct {
	// InMemory skips the database even if a path is configured.
	InMemory bool

	// Resolver overrides download.Passthrough.
	Resolver download.Resolver

	// OnEvent receives manager and tracker events.
	OnEvent func(download.ProgressEvent)
}

// New builds an engine for settings.
func New(settings *config.Settings, logger zerolog.Logger, opts Options) (*Engine, error) {
	live := config.NewLive(settings)

	var st Store
	if opts.InMemory || settings.DatabasePath == "" {
		st = store.NewMemory()
	} else {
		db, err := store.OpenSQLite(settings.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open episode database: %w", err)
		}
		st = db
	}

	client := http.NewClient(
		http.WithTimeout(settings.Timeout()),
		http.WithUserAgent(settings.UserAgent),
		http.WithLogger(logger.With().Str("component", "http").Logger()),
	)

	var postHooks []download.PostDownloadHook
	if settings.ModifyTags || settings.EmbedCoverArt {
		cfg := audio.DefaultTagConfig()
		cfg.ModifyTags = settings.ModifyTags
		tagger := audio.NewTagger(cfg)
		postHooks = append(postHooks, audio.NewTagHook(tagger, client, settings.EmbedCoverArt, settings.CoverArtMaxSize, logger))
	}
	if settings.CmdDownloadComplete != "" {
		postHooks = append(postHooks, hooks.NewCommand(settings.CmdDownloadComplete, logger))
	}

	e := &Engine{
		Settings: live,
		Client:   client,
		Store:    st,
		Hooks:    postHooks,
		Logger:   logger,
	}
	e.Manager = download.NewManager(live,
		download.WithStore(st),
		download.WithLogger(logger.With().Str("component", "manager").Logger()),
		download.WithEvents(opts.OnEvent),
	)
	e.Tracker = download.NewTracker(e.Manager, live, opts.OnEvent,
		download.WithTrackerLogger(logger.With().Str("component", "tracker").Logger()),
	)
	e.resolver = opts.Resolver
	return e, nil
}

// Episode creates and stores a new episode for a media URL.
func (e *Engine) Episode(ctx context.Context, podcast *model.Podcast, mediaURL, title string) (*model.Episode, error) {
	s := e.Settings.Snapshot()
	episode := model.NewEpisode(podcast, mediaURL, title, s.ToPathConfig())
	if err := e.Store.Save(ctx, episode); err != nil {
		return nil, err
	}
	return episode, nil
}

// NewTask creates a task for episode using the engine's collaborators.
func (e *Engine) NewTask(episode *model.Episode) (*download.Task, error) {
	return download.NewTask(episode, download.TaskConfig{
		Client:   e.Client,
		Settings: e.Settings,
		Store:    e.Store,
		Resolver: e.resolver,
		Hooks:    e.Hooks,
		Logger:   &e.Logger,
	})
}

// PendingTasks creates tasks for stored episodes that are not downloaded
// yet. Their partial files, if any, are picked up and resumed.
func (e *Engine) PendingTasks(ctx context.Context) ([]*download.Task, error) {
	episodes, err := e.Store.List(ctx, true)
	if err != nil {
		return nil, err
	}

	var tasks []*download.Task
	var errs []error
	for _, episode := range episodes {
		task, err := e.NewTask(episode)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", episode.Title, err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, errors.Join(errs...)
}

// Close pauses running downloads and releases the store.
func (e *Engine) Close(ctx context.Context) error {
	return errors.Join(e.Manager.Shutdown(ctx), e.Store.Close())
}

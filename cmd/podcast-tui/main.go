package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/handiism/podcast-downloader/internal/app"
	"github.com/handiism/podcast-downloader/internal/config"
	"github.com/handiism/podcast-downloader/internal/download"
	"github.com/handiism/podcast-downloader/internal/model"
	"github.com/handiism/podcast-downloader/internal/tui"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config file")
		podcast    = pflag.StringP("podcast", "p", "Podcast", "Podcast title for episodes added in the UI")
		logFile    = pflag.String("log-file", "", "Write logs to this file (default: discard)")
		paused     = pflag.Bool("paused", false, "Do not resume unfinished episodes on start")
	)
	pflag.Parse()

	if err := run(*configPath, *podcast, *logFile, !*paused); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, podcast, logFile string, resume bool) error {
	settings := config.DefaultSettings()
	if configPath != "" {
		var err error
		if settings, err = config.Load(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	// The screen belongs to the UI; logs go to a file or nowhere.
	logOut, err := openLog(logFile)
	if err != nil {
		return err
	}
	defer logOut.Close()
	logger := app.NewLogger(logOut, settings.LogLevel, false)

	events := make(chan download.ProgressEvent, 64)
	onEvent := func(event download.ProgressEvent) {
		select {
		case events <- event:
		default:
		}
	}

	engine, err := app.New(settings, logger, app.Options{OnEvent: onEvent})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Tracker.Run(ctx)

	if resume {
		tasks, err := engine.PendingTasks(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Some unfinished episodes cannot be resumed")
		}
		for _, task := range tasks {
			engine.Manager.AddTask(task, false)
		}
	}

	err = tui.Run(ctx, tui.Engine{
		Settings: engine.Settings,
		Manager:  engine.Manager,
		Events:   events,
		NewTask: func(url string) (*download.Task, error) {
			episode, err := engine.Episode(ctx, &model.Podcast{Title: podcast}, url, "")
			if err != nil {
				return nil, err
			}
			return engine.NewTask(episode)
		},
	})
	if cerr := engine.Store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

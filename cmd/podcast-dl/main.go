package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/pflag"

	"github.com/handiism/podcast-downloader/internal/app"
	"github.com/handiism/podcast-downloader/internal/audio"
	"github.com/handiism/podcast-downloader/internal/config"
	"github.com/handiism/podcast-downloader/internal/download"
	ioutils "github.com/handiism/podcast-downloader/internal/io"
	"github.com/handiism/podcast-downloader/internal/model"
)

type options struct {
	urls         []string
	title        string
	podcast      string
	cover        string
	username     string
	password     string
	output       string
	configPath   string
	dbPath       string
	maxDownloads int
	limitRate    float64
	retries      int
	playlist     bool
	resume       bool
	noTags       bool
	noDB         bool
	dryRun       bool
	verbose      bool
	logLevel     string
}

func main() {
	var opts options
	pflag.StringSliceVarP(&opts.urls, "url", "u", nil, "Episode media URL(s) to download")
	pflag.StringVarP(&opts.title, "title", "t", "", "Episode title (single URL only)")
	pflag.StringVarP(&opts.podcast, "podcast", "p", "Podcast", "Podcast title used for folders and tags")
	pflag.StringVar(&opts.cover, "cover", "", "Podcast cover art URL to embed in MP3 tags")
	pflag.StringVar(&opts.username, "username", "", "HTTP username for protected feeds")
	pflag.StringVar(&opts.password, "password", "", "HTTP password for protected feeds")
	pflag.StringVarP(&opts.output, "output", "o", "", "Output directory (overrides config)")
	pflag.StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	pflag.StringVar(&opts.dbPath, "db", "", "Episode database path (overrides config)")
	pflag.IntVarP(&opts.maxDownloads, "max-downloads", "j", 0, "Parallel downloads (0 = from config)")
	pflag.Float64Var(&opts.limitRate, "limit-rate", 0, "Limit each download to this many KiB/s")
	pflag.IntVar(&opts.retries, "retries", -1, "Retries for failed downloads (-1 = from config)")
	pflag.BoolVar(&opts.playlist, "playlist", false, "Write a playlist of downloaded episodes")
	pflag.BoolVarP(&opts.resume, "resume", "r", false, "Also resume unfinished episodes from the database")
	pflag.BoolVar(&opts.noTags, "no-tags", false, "Do not modify ID3 tags")
	pflag.BoolVar(&opts.noDB, "no-db", false, "Do not use the episode database")
	pflag.BoolVar(&opts.dryRun, "dry-run", false, "Only report episode sizes")
	pflag.BoolVarP(&opts.verbose, "verbose", "v", false, "Show verbose output")
	pflag.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Podcast Downloader - Download podcast episodes with pause and resume")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  podcast-dl [options] <URL>...")
		fmt.Fprintln(os.Stderr, "  podcast-dl --resume")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "For interactive mode, use: podcast-tui")
		fmt.Fprintln(os.Stderr)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	opts.urls = append(opts.urls, pflag.Args()...)
	if len(opts.urls) == 0 && !opts.resume {
		pflag.Usage()
		os.Exit(1)
	}

	os.Exit(run(opts))
}

func loadSettings(opts options) (*config.Settings, error) {
	settings := config.DefaultSettings()
	if opts.configPath != "" {
		var err error
		settings, err = config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if opts.output != "" {
		settings.DownloadsPath = filepath.Join(opts.output, "{podcast}")
	}
	if opts.dbPath != "" {
		settings.DatabasePath = opts.dbPath
	}
	if opts.maxDownloads > 0 {
		settings.MaxDownloads = opts.maxDownloads
		settings.MaxDownloadsEnabled = true
	}
	if opts.limitRate > 0 {
		settings.LimitRate = true
		settings.LimitRateValue = opts.limitRate
	}
	if opts.retries >= 0 {
		settings.DownloadMaxRetries = opts.retries
	}
	if opts.noTags {
		settings.ModifyTags = false
		settings.EmbedCoverArt = false
	}
	if opts.logLevel != "" {
		settings.LogLevel = opts.logLevel
	}
	return settings, nil
}

func run(opts options) int {
	settings, err := loadSettings(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger := app.NewLogger(os.Stderr, settings.LogLevel, opts.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &printer{verbose: opts.verbose}
	engine, err := app.New(settings, logger, app.Options{InMemory: opts.noDB, OnEvent: out.event})
	if err != nil {
		logger.Error().Err(err).Msg("Cannot start download engine")
		return 1
	}

	tasks, err := collectTasks(ctx, engine, opts)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot prepare downloads")
	}
	if len(tasks) == 0 {
		fmt.Println("Nothing to download.")
		engine.Close(context.Background())
		return 1
	}

	episodes := make([]*model.Episode, len(tasks))
	for i, task := range tasks {
		episodes[i] = task.Episode()
	}
	total, err := download.ProbeSizes(ctx, engine.Client, episodes, 8)
	if err != nil {
		logger.Warn().Err(err).Msg("Size probe interrupted")
	}
	fmt.Printf("%d episode(s), %s to download\n", len(tasks), sizeLabel(total))

	if opts.dryRun {
		for _, episode := range episodes {
			fmt.Printf("  %s  %s\n", sizeLabel(episode.Size), episode.Title)
		}
		engine.Close(context.Background())
		return 0
	}

	if free, err := ioutils.FreeSpace(filepath.Dir(tasks[0].Filename())); err == nil && total > 0 && uint64(total) > free {
		logger.Warn().Uint64("free", free).Int64("needed", total).Msg("Downloads may not fit on disk")
	}

	for _, task := range tasks {
		if err := engine.Manager.AddTask(task, false); err != nil {
			logger.Error().Err(err).Str("task", task.String()).Msg("Cannot queue download")
		}
	}

	barMax := total
	if barMax <= 0 {
		barMax = -1
	}
	bar := progressbar.DefaultBytes(barMax, "downloading")
	out.setBar(bar)
	wait(ctx, engine, tasks, bar)
	out.setBar(nil)
	bar.Finish()
	fmt.Println()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	interrupted := ctx.Err() != nil

	if opts.playlist {
		if err := writePlaylist(settings, engine, tasks); err != nil {
			logger.Error().Err(err).Msg("Cannot write playlist")
		}
	}
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Shutdown incomplete")
	}

	return summarize(tasks, interrupted)
}

// collectTasks creates tasks for the URLs on the command line and, with
// --resume, for unfinished episodes from the database.
func collectTasks(ctx context.Context, engine *app.Engine, opts options) ([]*download.Task, error) {
	var tasks []*download.Task
	var errs []error

	if opts.resume {
		pending, err := engine.PendingTasks(ctx)
		tasks = append(tasks, pending...)
		errs = append(errs, err)
	}

	podcast := &model.Podcast{
		Title:    opts.podcast,
		Username: opts.username,
		Password: opts.password,
		CoverURL: opts.cover,
	}
	for _, url := range opts.urls {
		title := ""
		if len(opts.urls) == 1 {
			title = opts.title
		}
		episode, err := engine.Episode(ctx, podcast, url, title)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		task, err := engine.NewTask(episode)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		tasks = append(tasks, task)
	}

	return tasks, errors.Join(errs...)
}

// wait drives the tracker and the progress bar until no download is
// running, queued or waiting for a retry, or until ctx is cancelled.
func wait(ctx context.Context, engine *app.Engine, tasks []*download.Task, bar *progressbar.ProgressBar) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	idleTicks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		engine.Tracker.Poll(ctx)

		var done, size int64
		for _, task := range tasks {
			total := task.TotalSize()
			size += total
			done += int64(task.Progress() * float64(total))
		}
		if size > 0 && bar.GetMax64() != size {
			bar.ChangeMax64(size)
		}
		bar.Set64(done)

		if !engine.Manager.HasActiveWorkers() && engine.Manager.Pending() == 0 && engine.Tracker.Scheduled() == 0 {
			// Idle on two consecutive polls: the last failure has been seen.
			if idleTicks++; idleTicks >= 2 {
				return
			}
		} else {
			idleTicks = 0
		}
	}
}

func writePlaylist(settings *config.Settings, engine *app.Engine, tasks []*download.Task) error {
	format, err := audio.ParsePlaylistFormat(settings.PlaylistFormat)
	if err != nil {
		return err
	}

	byDir := make(map[string][]*model.Episode)
	titles := make(map[string]string)
	for _, task := range tasks {
		if task.Status() != download.StatusDone {
			continue
		}
		episode := task.Episode()
		dir := filepath.Dir(episode.LocalPath)
		byDir[dir] = append(byDir[dir], episode)
		titles[dir] = episode.PodcastTitle()
	}

	var errs []error
	for dir, episodes := range byDir {
		title := titles[dir]
		if title == "" {
			title = "playlist"
		}
		path := filepath.Join(dir, title+format.Extension())
		content := audio.NewPlaylist(title, dir, episodes).Render(format, settings.M3UExtended)
		if err := ioutils.WriteFile(context.Background(), path, []byte(content)); err != nil {
			errs = append(errs, err)
			continue
		}
		engine.Logger.Info().Str("file", path).Int("episodes", len(episodes)).Msg("Playlist written")
	}
	return errors.Join(errs...)
}

func summarize(tasks []*download.Task, interrupted bool) int {
	counts := make(map[download.Status]int)
	for _, task := range tasks {
		status := task.Status()
		counts[status]++
		if status == download.StatusFailed {
			fmt.Printf("  failed: %s: %s\n", task, task.ErrorMessage())
		}
	}

	fmt.Printf("Finished: %d, failed: %d, paused: %d, cancelled: %d\n",
		counts[download.StatusDone], counts[download.StatusFailed],
		counts[download.StatusPaused]+counts[download.StatusQueued], counts[download.StatusCancelled])

	switch {
	case interrupted:
		fmt.Println("Interrupted. Run again with --resume to continue.")
		return 130
	case counts[download.StatusFailed] > 0:
		return 1
	default:
		return 0
	}
}

func sizeLabel(n int64) string {
	if n <= 0 {
		return "unknown size"
	}
	return fmt.Sprintf("%.2f MB", float64(n)/1024/1024)
}

// printer writes events above the progress bar.
type printer struct {
	mu      sync.Mutex
	verbose bool
	bar     *progressbar.ProgressBar
}

func (p *printer) setBar(bar *progressbar.ProgressBar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar = bar
}

func (p *printer) event(event download.ProgressEvent) {
	if event.Level == download.LevelVerbose && !p.verbose {
		return
	}

	prefix := "  "
	switch event.Level {
	case download.LevelError:
		prefix = "✗ "
	case download.LevelWarning:
		prefix = "! "
	case download.LevelSuccess:
		prefix = "✓ "
	case download.LevelInfo:
		prefix = "› "
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Clear()
	}
	fmt.Println(prefix + event.Message)
}

// Package hooks contains post-download hooks that are not tied to a
// media format.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/handiism/podcast-downloader/internal/model"
)

// Command runs a shell command after every finished download. Details
// of the episode are passed in GPODDER_* environment variables.
type Command struct {
	command string
	logger  zerolog.Logger
}

// NewCommand creates a hook for the shell command line. An empty command
// line yields a hook that does nothing.
func NewCommand(command string, logger zerolog.Logger) *Command {
	return &Command{command: strings.TrimSpace(command), logger: logger}
}

// OnEpisodeDownloaded runs the command and waits for it to exit.
func (c *Command) OnEpisodeDownloaded(ctx context.Context, episode *model.Episode, path string) error {
	if c.command == "" {
		return nil
	}

	cmd := shellCommand(ctx, c.command)
	cmd.Env = append(os.Environ(), Environment(episode, path)...)

	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	c.logger.Debug().Str("command", c.command).Str("file", path).Msg("Running download complete command")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %q: %w: %s", c.command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Environment returns the variables describing a downloaded episode.
func Environment(episode *model.Episode, path string) []string {
	var pubDate int64
	if !episode.PubDate.IsZero() {
		pubDate = episode.PubDate.Unix()
	}
	return []string{
		"GPODDER_EPISODE_URL=" + episode.URL,
		"GPODDER_EPISODE_TITLE=" + episode.Title,
		"GPODDER_EPISODE_FILENAME=" + path,
		"GPODDER_EPISODE_PUBDATE=" + strconv.FormatInt(pubDate, 10),
		"GPODDER_EPISODE_LINK=" + episode.Link,
		"GPODDER_EPISODE_DESC=" + episode.Description,
		"GPODDER_CHANNEL_TITLE=" + episode.PodcastTitle(),
	}
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

package audio

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/handiism/podcast-downloader/internal/model"
)

// PlaylistFormat selects the playlist file syntax.
type PlaylistFormat int

const (
	FormatM3U PlaylistFormat = iota
	FormatPLS
	FormatWPL // Windows Media Player
	FormatZPL // Zune
)

var formatNames = map[string]PlaylistFormat{
	"m3u": FormatM3U,
	"pls": FormatPLS,
	"wpl": FormatWPL,
	"zpl": FormatZPL,
}

// ParsePlaylistFormat maps a settings value such as "pls" to a format.
// An empty name means M3U.
func ParsePlaylistFormat(name string) (PlaylistFormat, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return FormatM3U, nil
	}
	if f, ok := formatNames[name]; ok {
		return f, nil
	}
	return FormatM3U, fmt.Errorf("unknown playlist format %q", name)
}

// Extension returns the file extension for the format, including the dot.
func (f PlaylistFormat) Extension() string {
	for name, format := range formatNames {
		if format == f {
			return "." + name
		}
	}
	return ".m3u"
}

// Playlist is the list of downloaded episodes of one directory.
//
//	pl := audio.NewPlaylist("Show", "/podcasts/Show", episodes)
//	content := pl.Render(audio.FormatM3U, true)
//	// #EXTM3U
//	// #EXTINF:-1,Show - Pilot
//	// Pilot.mp3
type Playlist struct {
	Title   string
	Entries []PlaylistEntry
}

// PlaylistEntry is one playable file. Path is relative to the playlist
// directory when the file lives below it.
type PlaylistEntry struct {
	Path    string
	Title   string
	Channel string
}

func (e PlaylistEntry) displayTitle() string {
	if e.Channel == "" {
		return e.Title
	}
	return e.Channel + " - " + e.Title
}

// NewPlaylist collects the downloaded episodes. dir is where the playlist
// will be written. Episodes without a local file are skipped.
func NewPlaylist(title, dir string, episodes []*model.Episode) *Playlist {
	pl := &Playlist{Title: title}
	for _, episode := range episodes {
		if !episode.Downloaded || episode.LocalPath == "" {
			continue
		}
		pl.Entries = append(pl.Entries, PlaylistEntry{
			Path:    relativePath(dir, episode.LocalPath),
			Title:   episode.Title,
			Channel: episode.PodcastTitle(),
		})
	}
	return pl
}

// Render returns the playlist in the given format. extended only affects
// M3U, where it adds the #EXTM3U header and #EXTINF lines. Durations are
// not known and written as -1.
func (pl *Playlist) Render(format PlaylistFormat, extended bool) string {
	var sb strings.Builder
	switch format {
	case FormatPLS:
		pl.writePLS(&sb)
	case FormatWPL:
		pl.writeSMIL(&sb, `<?wpl version="1.0"?>`, false)
	case FormatZPL:
		pl.writeSMIL(&sb, `<?zpl version="2.0"?>`, true)
	default:
		pl.writeM3U(&sb, extended)
	}
	return sb.String()
}

func (pl *Playlist) writeM3U(sb *strings.Builder, extended bool) {
	if extended {
		sb.WriteString("#EXTM3U\n")
	}
	for _, e := range pl.Entries {
		if extended {
			fmt.Fprintf(sb, "#EXTINF:-1,%s\n", e.displayTitle())
		}
		sb.WriteString(e.Path + "\n")
	}
}

func (pl *Playlist) writePLS(sb *strings.Builder) {
	sb.WriteString("[playlist]\n")
	for i, e := range pl.Entries {
		n := i + 1
		fmt.Fprintf(sb, "File%d=%s\nTitle%d=%s\nLength%d=-1\n", n, e.Path, n, e.displayTitle(), n)
	}
	fmt.Fprintf(sb, "NumberOfEntries=%d\nVersion=2\n", len(pl.Entries))
}

// writeSMIL writes the SMIL body shared by WPL and ZPL. Zune players read
// album and track attributes on each media element.
func (pl *Playlist) writeSMIL(sb *strings.Builder, header string, zune bool) {
	sb.WriteString(header + "\n<smil>\n  <head>\n")
	fmt.Fprintf(sb, "    <title>%s</title>\n", escapeXML(pl.Title))
	if zune {
		sb.WriteString("    <meta name=\"Generator\" content=\"podcast-downloader\"/>\n")
		fmt.Fprintf(sb, "    <meta name=\"ItemCount\" content=\"%d\"/>\n", len(pl.Entries))
	}
	sb.WriteString("  </head>\n  <body>\n    <seq>\n")

	for _, e := range pl.Entries {
		if !zune {
			fmt.Fprintf(sb, "      <media src=\"%s\"/>\n", escapeXML(e.Path))
			continue
		}
		channel := escapeXML(e.Channel)
		fmt.Fprintf(sb, "      <media src=\"%s\" albumTitle=\"%s\" albumArtist=\"%s\" trackTitle=\"%s\" trackArtist=\"%s\"/>\n",
			escapeXML(e.Path), channel, channel, escapeXML(e.Title), channel)
	}

	sb.WriteString("    </seq>\n  </body>\n</smil>\n")
}

func relativePath(dir, path string) string {
	if dir == "" {
		return path
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func escapeXML(s string) string {
	var sb strings.Builder
	xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

package model

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Episode represents a single podcast episode that can be downloaded.
//
// Episode is owned by the catalog side of the application. The download
// engine reads it and is allowed to update only MimeType and the
// download bookkeeping fields (Downloaded, LocalPath).
//
// Example:
//
//	cfg := &PathConfig{DownloadsPath: "/podcasts/{podcast}", FileNameFormat: "{title}"}
//	episode := NewEpisode(podcast, "https://cdn.example.com/ep12.mp3", "Episode 12", cfg)
//	// episode.LocalFilename("") = "/podcasts/Show/Episode 12.mp3"
type Episode struct {
	// ID uniquely identifies the episode in an EpisodeStore.
	ID string `json:"id"`

	// Podcast is the channel this episode belongs to.
	Podcast *Podcast `json:"podcast,omitempty"`

	// URL is the nominal media URL from the feed enclosure.
	URL string `json:"url"`

	Title       string    `json:"title"`
	Link        string    `json:"link,omitempty"`
	Description string    `json:"description,omitempty"`
	PubDate     time.Time `json:"pub_date"`

	// Size is the expected size in bytes. Zero means unknown.
	Size int64 `json:"size"`

	// MimeType is the current best guess of the media type.
	MimeType string `json:"mime_type"`

	// DownloadDir is the directory the final file is written to.
	DownloadDir string `json:"download_dir"`

	// FileNameFormat is the template for the file name (without extension).
	FileNameFormat string `json:"file_name_format"`

	// Downloaded is set once the media has been stored at LocalPath.
	Downloaded bool   `json:"downloaded"`
	LocalPath  string `json:"local_path,omitempty"`
}

// PathConfig holds path formatting settings for episodes.
//
// DownloadsPath supports the {podcast} placeholder. FileNameFormat supports
// {podcast}, {title}, {year}, {month} and {day}; the extension is appended
// automatically from the URL or the MIME type.
type PathConfig struct {
	// DownloadsPath is the base directory template.
	// Example: "/home/user/Podcasts/{podcast}"
	DownloadsPath string

	// FileNameFormat is the template for episode filenames, without extension.
	// Example: "{year}-{month}-{day} {title}"
	FileNameFormat string
}

// NewEpisode creates a new Episode with a fresh ID and computed download directory.
func NewEpisode(podcast *Podcast, mediaURL, title string, cfg *PathConfig) *Episode {
	episode := &Episode{
		ID:             uuid.New().String(),
		Podcast:        podcast,
		URL:            mediaURL,
		Title:          title,
		FileNameFormat: cfg.FileNameFormat,
	}
	if episode.Title == "" {
		episode.Title = titleFromURL(mediaURL)
	}
	episode.DownloadDir = episode.parseFolderPath(cfg)
	return episode
}

// Clone returns a deep copy of the episode.
func (e *Episode) Clone() *Episode {
	c := *e
	if e.Podcast != nil {
		p := *e.Podcast
		c.Podcast = &p
	}
	return &c
}

// PodcastTitle returns the channel title or an empty string.
func (e *Episode) PodcastTitle() string {
	if e.Podcast == nil {
		return ""
	}
	return e.Podcast.Title
}

// Extension returns the file extension (including the dot) for this episode.
//
// The extension of the URL path is used when it looks like a media file;
// otherwise the extension is derived from the MIME type.
func (e *Episode) Extension() string {
	ext := strings.ToLower(path.Ext(urlPath(e.URL)))
	if !WrongExtension(ext) && isMediaExtension(ext) {
		return ext
	}
	if fromMime := ExtensionFromMimeType(e.MimeType); fromMime != "" {
		return fromMime
	}
	if !WrongExtension(ext) {
		return ext
	}
	return ""
}

// LocalFilename returns the full path of the final file.
//
// If template is non-empty (e.g. a filename suggested by the server) it is
// used instead of the configured FileNameFormat. A template without an
// extension gets the episode extension appended.
func (e *Episode) LocalFilename(template string) string {
	var fileName string
	if template != "" {
		fileName = sanitizeFileName(template)
		if path.Ext(fileName) == "" {
			fileName += e.Extension()
		}
	} else {
		fileName = e.parseFileName() + e.Extension()
	}
	if fileName == "" || strings.HasPrefix(fileName, ".") {
		fileName = e.ID + fileName
	}

	filePath := filepath.Join(e.DownloadDir, fileName)

	// Limit total path length for Windows compatibility (MAX_PATH = 260)
	if len(filePath) >= 260 {
		ext := filepath.Ext(fileName)
		maxLen := 259 - len(e.DownloadDir) - 1 - len(ext)
		if maxLen > 0 && maxLen < len(fileName)-len(ext) {
			filePath = filepath.Join(e.DownloadDir, fileName[:maxLen]+ext)
		}
	}

	return filePath
}

// OnDownloaded records that the media was stored at localPath.
func (e *Episode) OnDownloaded(localPath string) {
	e.Downloaded = true
	e.LocalPath = localPath
}

// parseFolderPath computes the download directory from the config template.
func (e *Episode) parseFolderPath(cfg *PathConfig) string {
	dir := cfg.DownloadsPath
	dir = strings.ReplaceAll(dir, "{podcast}", sanitizeFileName(e.PodcastTitle()))

	// Limit path length for cross-platform compatibility (Windows MAX_PATH)
	if len(dir) >= 248 {
		dir = dir[:247]
	}

	return dir
}

// parseFileName computes the filename from the format template.
func (e *Episode) parseFileName() string {
	fileName := e.FileNameFormat
	if fileName == "" {
		fileName = "{title}"
	}
	pub := e.PubDate
	if pub.IsZero() {
		pub = time.Now()
	}
	fileName = strings.ReplaceAll(fileName, "{year}", pub.Format("2006"))
	fileName = strings.ReplaceAll(fileName, "{month}", pub.Format("01"))
	fileName = strings.ReplaceAll(fileName, "{day}", pub.Format("02"))
	fileName = strings.ReplaceAll(fileName, "{podcast}", e.PodcastTitle())
	fileName = strings.ReplaceAll(fileName, "{title}", e.Title)
	return sanitizeFileName(fileName)
}

// mimeExtensions maps common podcast media types to their preferred extension.
// mime.ExtensionsByType returns them in an order that depends on the host.
var mimeExtensions = map[string]string{
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/x-mpeg":    ".mp3",
	"audio/mp4":       ".m4a",
	"audio/x-m4a":     ".m4a",
	"audio/aac":       ".aac",
	"audio/ogg":       ".ogg",
	"audio/opus":      ".opus",
	"audio/flac":      ".flac",
	"audio/x-flac":    ".flac",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"video/mp4":       ".mp4",
	"video/x-m4v":     ".m4v",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
	"application/pdf": ".pdf",
}

// ExtensionFromMimeType returns the preferred extension for a media type,
// or an empty string if the type is unknown.
func ExtensionFromMimeType(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if ext, ok := mimeExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// MimeTypeFromFilename guesses a media type from a file name.
// Returns an empty string when nothing is known about the extension.
func MimeTypeFromFilename(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return ""
	}
	for mediaType, known := range mimeExtensions {
		if known == ext && !strings.Contains(mediaType, "/x-") && mediaType != "audio/mp3" {
			return mediaType
		}
	}
	if t := mime.TypeByExtension(ext); t != "" {
		mediaType, _, err := mime.ParseMediaType(t)
		if err == nil {
			return mediaType
		}
	}
	return ""
}

// webExtensions are extensions that point at a script or page rather than media.
var webExtensions = map[string]bool{
	".html": true, ".htm": true, ".php": true, ".cgi": true, ".asp": true,
	".aspx": true, ".jsp": true, ".py": true, ".pl": true, ".lua": true,
}

// WrongExtension reports whether ext looks like a bad guess for a media file:
// empty, too long, containing separators or spaces, or a web page/script.
func WrongExtension(ext string) bool {
	return ext == "" ||
		len(ext) > 6 ||
		strings.ContainsAny(ext, "/ ") ||
		webExtensions[strings.ToLower(ext)]
}

func isMediaExtension(ext string) bool {
	for _, known := range mimeExtensions {
		if known == ext {
			return true
		}
	}
	t := mime.TypeByExtension(ext)
	return strings.HasPrefix(t, "audio/") || strings.HasPrefix(t, "video/")
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

func titleFromURL(raw string) string {
	base := path.Base(urlPath(raw))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

var (
	invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots     = regexp.MustCompile(`\.+$`)
	multipleSpaces   = regexp.MustCompile(`\s+`)
)

// sanitizeFileName removes or replaces characters that are invalid in file/folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars) are replaced with underscore
//   - Trailing dots are removed (Windows limitation)
//   - Multiple whitespace is collapsed to single space
//   - Leading and trailing whitespace is removed
//
// Example:
//
//	sanitizeFileName("Episode: Part 1/2") // Returns "Episode_ Part 1_2"
func sanitizeFileName(name string) string {
	name = invalidFileChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = multipleSpaces.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

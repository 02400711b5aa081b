package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bogem/id3v2"
	"github.com/rs/zerolog"

	"github.com/handiism/podcast-downloader/internal/http"
	ioutils "github.com/handiism/podcast-downloader/internal/io"
	"github.com/handiism/podcast-downloader/internal/model"
)

// TagEditAction defines how to handle individual ID3 tags.
type TagEditAction int

const (
	// TagEmpty clears the tag value.
	TagEmpty TagEditAction = iota

	// TagModify updates the tag with the value from the episode.
	TagModify

	// TagDoNotModify leaves the existing tag value unchanged.
	TagDoNotModify
)

// TagConfig holds tagging configuration for each ID3 field.
//
// Example:
//
//	cfg := &TagConfig{
//	    ModifyTags: true,
//	    Artist:     TagModify,      // channel title
//	    Album:      TagModify,      // channel title
//	    Title:      TagModify,      // episode title
//	    Year:       TagModify,      // publication year
//	    Comments:   TagModify,      // episode description
//	    Genre:      TagDoNotModify, // keep what the publisher set
//	}
type TagConfig struct {
	// ModifyTags is a master switch. If false, no string tags are modified.
	ModifyTags bool

	// Artist controls the TPE1 (Lead artist) frame.
	Artist TagEditAction

	// Album controls the TALB (Album title) frame.
	Album TagEditAction

	// Title controls the TIT2 (Title) frame.
	Title TagEditAction

	// Year controls the year frame (TYER in ID3v2.3, TDRC in ID3v2.4).
	Year TagEditAction

	// Date controls the TDRC (Recording time) frame (ID3v2.4).
	Date TagEditAction

	// Comments controls the COMM (Comments) frame.
	Comments TagEditAction

	// Genre controls the TCON (Content type) frame. Modify sets "Podcast".
	Genre TagEditAction
}

// DefaultTagConfig returns the default tag configuration.
//
// Podcast files usually come with sensible tags, so only the fields
// that are commonly missing are filled in.
func DefaultTagConfig() *TagConfig {
	return &TagConfig{
		ModifyTags: true,
		Artist:     TagModify,
		Album:      TagModify,
		Title:      TagModify,
		Year:       TagModify,
		Date:       TagDoNotModify,
		Comments:   TagDoNotModify,
		Genre:      TagModify,
	}
}

// Tagger writes ID3 tags to MP3 files.
//
// Example:
//
//	tagger := NewTagger(DefaultTagConfig())
//	err := tagger.SaveTags("/podcasts/Show/Pilot.mp3", episode, artworkBytes)
type Tagger struct {
	config *TagConfig
}

// NewTagger creates a new Tagger with the given configuration.
//
// If config is nil, DefaultTagConfig() is used.
func NewTagger(config *TagConfig) *Tagger {
	if config == nil {
		config = DefaultTagConfig()
	}
	return &Tagger{config: config}
}

// SaveTags writes ID3 tags for episode to the MP3 file at path.
// Artwork is embedded as the front cover unless it is nil.
func (t *Tagger) SaveTags(path string, episode *model.Episode, artwork []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	if t.config.ModifyTags {
		t.updateStringTags(tag, episode)
	}

	if artwork != nil {
		t.updateArtwork(tag, artwork)
	}

	return tag.Save()
}

// updateStringTags updates text-based ID3 frames based on configuration.
func (t *Tagger) updateStringTags(tag *id3v2.Tag, episode *model.Episode) {
	channel := episode.PodcastTitle()

	switch t.config.Artist {
	case TagEmpty:
		tag.SetArtist("")
	case TagModify:
		tag.SetArtist(channel)
	}

	switch t.config.Album {
	case TagEmpty:
		tag.SetAlbum("")
	case TagModify:
		tag.SetAlbum(channel)
	}

	switch t.config.Title {
	case TagEmpty:
		tag.SetTitle("")
	case TagModify:
		tag.SetTitle(episode.Title)
	}

	switch t.config.Year {
	case TagEmpty:
		tag.DeleteFrames(tag.CommonID("Year"))
	case TagModify:
		if !episode.PubDate.IsZero() {
			tag.SetYear(episode.PubDate.Format("2006"))
		}
	}

	switch t.config.Date {
	case TagEmpty:
		tag.DeleteFrames("TDRC")
	case TagModify:
		if !episode.PubDate.IsZero() {
			tag.DeleteFrames("TDRC")
			tag.AddTextFrame("TDRC", id3v2.EncodingUTF8, episode.PubDate.Format("2006-01-02"))
		}
	}

	switch t.config.Comments {
	case TagEmpty:
		tag.DeleteFrames(tag.CommonID("Comments"))
	case TagModify:
		if episode.Description != "" {
			tag.DeleteFrames(tag.CommonID("Comments"))
			tag.AddCommentFrame(id3v2.CommentFrame{
				Encoding:    id3v2.EncodingUTF8,
				Language:    "eng",
				Description: "",
				Text:        episode.Description,
			})
		}
	}

	switch t.config.Genre {
	case TagEmpty:
		tag.SetGenre("")
	case TagModify:
		tag.SetGenre("Podcast")
	}
}

// updateArtwork embeds cover art as an attached picture frame.
func (t *Tagger) updateArtwork(tag *id3v2.Tag, artwork []byte) {
	tag.DeleteFrames(tag.CommonID("Attached picture"))

	pic := id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    "image/jpeg",
		PictureType: id3v2.PTFrontCover,
		Description: "Cover",
		Picture:     artwork,
	}
	tag.AddAttachedPicture(pic)
}

// TagHook tags finished MP3 episodes. It fetches the channel cover once per
// channel and embeds it when cover art is enabled.
type TagHook struct {
	tagger       *Tagger
	client       *http.Client
	images       *ioutils.ImageService
	embedCover   bool
	coverMaxSize int
	logger       zerolog.Logger

	mu     sync.Mutex
	covers map[string][]byte
}

// NewTagHook creates a hook that tags with tagger. A nil client disables
// cover art.
func NewTagHook(tagger *Tagger, client *http.Client, embedCover bool, coverMaxSize int, logger zerolog.Logger) *TagHook {
	return &TagHook{
		tagger:       tagger,
		client:       client,
		images:       ioutils.NewImageService(),
		embedCover:   embedCover && client != nil,
		coverMaxSize: coverMaxSize,
		logger:       logger,
		covers:       make(map[string][]byte),
	}
}

// OnEpisodeDownloaded tags path. Files that are not MP3 are left alone.
func (h *TagHook) OnEpisodeDownloaded(ctx context.Context, episode *model.Episode, path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		return nil
	}

	var artwork []byte
	if h.embedCover && episode.Podcast.HasCover() {
		var err error
		artwork, err = h.cover(ctx, episode.Podcast.CoverURL)
		if err != nil {
			h.logger.Warn().Err(err).Str("url", episode.Podcast.CoverURL).Msg("Cannot fetch cover art")
		}
	}

	if err := h.tagger.SaveTags(path, episode, artwork); err != nil {
		return fmt.Errorf("tag %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (h *TagHook) cover(ctx context.Context, url string) ([]byte, error) {
	h.mu.Lock()
	data, ok := h.covers[url]
	h.mu.Unlock()
	if ok {
		return data, nil
	}

	raw, err := h.client.DownloadBytes(ctx, url)
	if err != nil {
		return nil, err
	}
	data, err = h.images.PrepareCoverArt(ctx, raw, h.coverMaxSize)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.covers[url] = data
	h.mu.Unlock()
	return data, nil
}

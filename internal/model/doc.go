// Package model defines the core data structures used throughout
// the podcast-downloader application.
//
// # Podcast
//
// Podcast represents a subscribed channel. It carries the channel-level
// credentials used to answer HTTP authentication challenges:
//
//	podcast := &model.Podcast{Title: "Show", URL: feedURL, Username: "u", Password: "p"}
//
// # Episode
//
// Episode is the descriptor consumed by the download engine. It knows
// where its media lives, how big it is expected to be and where it
// should be written locally:
//
//	episode := model.NewEpisode(podcast, mediaURL, "Episode 12", pathConfig)
//	fmt.Println(episode.LocalFilename("")) // Full path of the final file
//
// # Path Configuration
//
// PathConfig controls how episode paths are computed using placeholders:
//
//	cfg := &model.PathConfig{
//	    DownloadsPath:  "/podcasts/{podcast}",
//	    FileNameFormat: "{year}-{month}-{day} {title}",
//	}
//
// Available placeholders: {podcast}, {title}, {year}, {month}, {day}
package model

// Package audio provides post-processing for downloaded episodes: ID3 tag
// writing and playlist generation.
//
// # ID3 Tagging
//
// TagHook plugs the Tagger into the download engine as a post-download
// hook:
//
//	hook := audio.NewTagHook(audio.NewTagger(nil), client, true, 600, logger)
//	task, err := download.NewTask(episode, download.TaskConfig{
//	    Hooks: []download.PostDownloadHook{hook},
//	})
//
// Only files with an .mp3 extension are tagged. The channel cover is
// fetched once per channel, scaled down and embedded as the front cover.
//
// # Playlists
//
// NewPlaylist gathers the downloaded episodes of a directory and Render
// writes them as M3U (plain or extended), PLS, WPL or ZPL:
//
//	content := audio.NewPlaylist("Show", dir, episodes).Render(audio.FormatPLS, false)
package audio

// Package ioutils holds the file and image helpers used around a download.
//
// Finished episodes are written to a ".partial" file and moved into place
// with MoveFile, which falls back to copy-and-remove when the rename
// crosses a device boundary:
//
//	err := ioutils.MoveFile(ctx, "/podcasts/Show/ep.mp3.partial", "/podcasts/Show/ep.mp3")
//
// EnsureDir, WriteFile and FileSize cover the remaining needs of the
// engine and the playlist writer. FreeSpace asks the operating system
// how many bytes are left on the volume holding a directory:
//
//	free, err := ioutils.FreeSpace("/podcasts/Show")
//
// # Cover art
//
// ImageService shrinks channel artwork and re-encodes it as JPEG before
// it is embedded in ID3 tags:
//
//	cover, err := ioutils.NewImageService().PrepareCoverArt(ctx, imageData, 600)
package ioutils

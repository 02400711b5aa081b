// Package store provides EpisodeStore implementations for the download
// engine.
//
// Memory keeps episodes in a map and is meant for one-shot runs and tests.
// SQLite persists them in a single table so that a later run can resume
// paused downloads and skip finished ones.
//
// Both return model.ErrEpisodeNotFound for unknown IDs and never share an
// *model.Episode with the caller.
package store

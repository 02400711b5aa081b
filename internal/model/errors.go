package model

import "errors"

// ErrEpisodeNotFound is returned by episode stores for unknown IDs.
var ErrEpisodeNotFound = errors.New("episode not found")

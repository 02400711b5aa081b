package download

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/handiism/podcast-downloader/internal/http"
	"github.com/handiism/podcast-downloader/internal/model"
)

// ProbeSizes fills in unknown episode sizes with HEAD requests, running at
// most limit requests at once. Episodes whose size cannot be determined
// keep a size of zero. It returns the sum of all known sizes.
func ProbeSizes(ctx context.Context, client *http.Client, episodes []*model.Episode, limit int) (int64, error) {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	var total atomic.Int64
	for _, episode := range episodes {
		episode := episode
		if episode.Size > 0 {
			total.Add(episode.Size)
			continue
		}
		g.Go(func() error {
			size, err := client.GetFileSize(gctx, episode.URL)
			if err != nil {
				return nil
			}
			episode.Size = size
			total.Add(size)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total.Load(), err
	}
	return total.Load(), ctx.Err()
}

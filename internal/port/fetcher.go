package port

import "context"

type FetchResult struct {
	Path  string
	Title string
}

// Fetcher downloads remote media into destDir.
type Fetcher interface {
	Fetch(ctx context.Context, url, destDir string) (*FetchResult, error)
}

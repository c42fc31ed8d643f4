package ports

import "context"

// DatasetHost defines the interface for the platform that stores and serves
// the published dataset.
type DatasetHost interface {
	// DownloadDataset fetches the current version of the dataset identified
	// by slug ("owner/name") and unpacks its files into destDir.
	DownloadDataset(ctx context.Context, slug, destDir string) error

	// CreateVersion publishes the files under folder as a new version of the
	// dataset identified by slug, with the given version notes.
	CreateVersion(ctx context.Context, slug, folder, notes string) error
}

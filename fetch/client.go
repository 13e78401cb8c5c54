package fetch

import (
	"context"

	"github.com/gogpu/annot/annotation"
	"github.com/gogpu/annot/region"
)

// Query is an element query.
type Query struct {
	// Region limits the query; nil requests the whole annotation.
	Region *region.Region
	// MaxDetails caps the number of returned elements. The server returns
	// the largest elements first.
	MaxDetails int
}

// Client is the transport used by a Coordinator. Implementations must honor
// context cancellation; calls that do not are abandoned by the watchdog.
type Client interface {
	// Elements runs an element query against an annotation.
	Elements(ctx context.Context, id string, q Query) (*annotation.Document, error)
	// Centroids fetches the raw centroid summary of an annotation, capped
	// at limit records.
	Centroids(ctx context.Context, id string, limit int) ([]byte, error)
}

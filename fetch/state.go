package fetch

import (
	"github.com/gogpu/annot/annotation"
	"github.com/gogpu/annot/centroid"
	"github.com/gogpu/annot/region"
)

// InFlight is the kind of network call an annotation is waiting for.
type InFlight int

const (
	// InFlightNone means no call is outstanding.
	InFlightNone InFlight = iota
	// InFlightElements means an element query is outstanding.
	InFlightElements
	// InFlightCentroids means the centroid summary is being fetched after a
	// truncated element query. No viewport fetch starts meanwhile.
	InFlightCentroids
)

// String returns the in-flight kind name.
func (f InFlight) String() string {
	switch f {
	case InFlightElements:
		return "elements"
	case InFlightCentroids:
		return "centroids"
	default:
		return "none"
	}
}

// State is a snapshot of the fetch state of one annotation.
type State struct {
	InFlight InFlight
	// Queued is set when a follow-up fetch will run after the current one.
	Queued bool
	// LastRegion is the region of the most recent element query; HasRegion
	// is false when that query covered the whole annotation.
	LastRegion region.Region
	HasRegion  bool
	LastZoom   float64
	// PageElements tells whether elements are paged by region (partial),
	// complete (full) or not known yet.
	PageElements annotation.Mode
	// Centroids is the summary of the current epoch, nil when the element
	// list was never truncated.
	Centroids *centroid.Summary
	// Epoch increments on every refresh.
	Epoch uint64
}

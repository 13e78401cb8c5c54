package rest

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // region encodings
	_ "image/png"
	"net/http"
	"net/url"
	"strconv"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// TileInfo is the tile pyramid metadata of an item.
type TileInfo struct {
	SizeX      int     `json:"sizeX"`
	SizeY      int     `json:"sizeY"`
	TileWidth  int     `json:"tileWidth"`
	TileHeight int     `json:"tileHeight"`
	Levels     int     `json:"levels"`
	MmX        float64 `json:"mm_x,omitempty"`
	MmY        float64 `json:"mm_y,omitempty"`
	// Magnification is the objective power of the base level, if known.
	Magnification float64 `json:"magnification,omitempty"`
}

// MaxZoom returns the zoom level of the base image.
func (t *TileInfo) MaxZoom() int {
	return max(t.Levels-1, 0)
}

// RegionQuery selects an area of an item and the output size.
type RegionQuery struct {
	Left, Top, Right, Bottom float64
	// Width and Height bound the output; zero keeps the base resolution.
	Width, Height int
	// Encoding is the requested image encoding, PNG when empty.
	Encoding string
}

// TileInfo fetches the tile metadata of an item.
func (c *Client) TileInfo(ctx context.Context, itemID string) (*TileInfo, error) {
	var info TileInfo
	if err := c.doJSON(ctx, http.MethodGet, c.resourceURL(nil, "item", itemID, "tiles"), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Region fetches an area of an item as an image. PNG, JPEG, TIFF, WebP and
// BMP responses are decoded.
func (c *Client) Region(ctx context.Context, itemID string, q RegionQuery) (image.Image, error) {
	params := url.Values{}
	params.Set("left", formatFloat(q.Left))
	params.Set("top", formatFloat(q.Top))
	params.Set("right", formatFloat(q.Right))
	params.Set("bottom", formatFloat(q.Bottom))
	if q.Width > 0 {
		params.Set("width", strconv.Itoa(q.Width))
	}
	if q.Height > 0 {
		params.Set("height", strconv.Itoa(q.Height))
	}
	enc := q.Encoding
	if enc == "" {
		enc = "PNG"
	}
	params.Set("encoding", enc)

	rawURL := c.resourceURL(params, "item", itemID, "tiles", "region")
	resp, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rest: decode region of %s: %w", itemID, err)
	}
	return img, nil
}

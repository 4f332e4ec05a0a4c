// Package extract turns a photographed receipt into editable rows.
//
// The image is sent to the hosted extractor, which answers with one entry
// per purchased line. BuildRows resolves each entry's display name, price,
// confidence and perishability into an editing.Row.
package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tbourn/scan2serve/internal/upstream"
)

// ErrUnsupportedMedia is returned for images that are not JPEG, PNG, WebP
// or HEIC.
var ErrUnsupportedMedia = errors.New("unsupported image type")

// ErrEmptyImage is returned for a zero-length upload.
var ErrEmptyImage = errors.New("image is empty")

var accepted = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/heic": {},
}

// Item is one line as reported by the extractor. Price and confidence may
// be numbers or strings; perishable may be a bool or "Yes"/"No".
type Item struct {
	OriginalName string `json:"original_name"`
	ExpandedName string `json:"expanded_name"`
	Price        any    `json:"price"`
	Confidence   any    `json:"confidence"`
	Perishable   any    `json:"perishable"`
}

// Result is the extractor's result object.
type Result struct {
	Items []Item `json:"items"`
}

type request struct {
	ImageBase64 string `json:"image_base64"`
	MediaType   string `json:"media_type"`
}

// Poster is the transport the client sends through.
type Poster interface {
	Post(ctx context.Context, op string, in, out any) error
}

// Client calls the receipt extraction service.
type Client struct {
	Upstream Poster
}

// NewClient returns a Client over an upstream.Client.
func NewClient(u *upstream.Client) *Client {
	return &Client{Upstream: u}
}

// Extract validates the image and asks the service for its line items.
// Upstream failures are returned as *upstream.Error.
func (c *Client) Extract(ctx context.Context, image []byte, declared string) (*Result, error) {
	mediaType, err := DetectMediaType(image, declared)
	if err != nil {
		return nil, err
	}
	in := request{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		MediaType:   mediaType,
	}
	var out Result
	if err := c.Upstream.Post(ctx, "extract.Receipt", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DetectMediaType sniffs the image bytes and checks the result, falling back
// to the declared type when sniffing is inconclusive.
func DetectMediaType(image []byte, declared string) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	detected := mimetype.Detect(image).String()
	if _, ok := accepted[baseType(detected)]; ok {
		return baseType(detected), nil
	}
	if baseType(detected) == "application/octet-stream" {
		if d := baseType(declared); d != "" {
			if _, ok := accepted[d]; ok {
				return d, nil
			}
		}
	}
	return "", ErrUnsupportedMedia
}

func baseType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return ct
}

package types

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// PageCursor is the decoded form of the opaque page cursors handed out in
// PageResponse. It pins a session to a page so a client can walk pages
// without rebuilding request bodies.
type PageCursor struct {
	Session  string `cbor:"1,keyasint"`
	Page     int    `cbor:"2,keyasint"`
	PageSize int    `cbor:"3,keyasint"`
}

// EncodePageCursor serializes a cursor to a URL-safe string.
func EncodePageCursor(c PageCursor) (string, error) {
	raw, err := cbor.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// DecodePageCursor parses a cursor produced by EncodePageCursor.
func DecodePageCursor(s string) (PageCursor, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return PageCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	var c PageCursor
	if err := cbor.Unmarshal(raw, &c); err != nil {
		return PageCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	return c, nil
}

package cachestore

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/smileynet/vizcache/internal/report"
)

// Kind is an artifact kind. Each kind has its own file suffix under the
// same key base.
type Kind int

const (
	KindImage Kind = iota
	KindText
	KindLabel
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindText:
		return "text"
	case KindLabel:
		return "label"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// labelSuffix is appended to the object ID of accessibility-label keys.
const labelSuffix = "accessibilityLabel"

// Key addresses one artifact of one visual for one filter value.
type Key struct {
	ObjectID    string
	FilterValue string
	Size        report.Size
}

// ImageKey returns the key of a rendered thumbnail.
func ImageKey(objectID, filterValue string, size report.Size) Key {
	return Key{ObjectID: objectID, FilterValue: filterValue, Size: size}
}

// TextKey returns the key of a rich-text document. Text is size independent.
func TextKey(objectID, filterValue string) Key {
	return Key{ObjectID: objectID, FilterValue: filterValue}
}

// LabelKey returns the key of an accessibility label.
func LabelKey(objectID, filterValue string) Key {
	return Key{ObjectID: objectID + labelSuffix, FilterValue: filterValue}
}

// maxBaseLen keeps a key base plus its kind suffix under the common
// 255-byte file name limit.
const maxBaseLen = 200

// hashedPrefix marks hashed key bases. '.' is outside the base64url
// alphabet, so a hashed base never equals a plain one.
const hashedPrefix = "h."

// encode returns the filesystem-safe key base for host and reportID.
// Identical inputs always produce identical output, and each field is
// length-prefixed so distinct tuples never share a base.
func (k Key) encode(host, reportID string) string {
	var b strings.Builder
	for _, f := range []string{host, reportID, k.ObjectID, k.FilterValue} {
		_, _ = fmt.Fprintf(&b, "%d:%s|", len(f), f)
	}
	_, _ = fmt.Fprintf(&b, "width(%d)_height(%d)", k.Size.Width, k.Size.Height)
	raw := b.String()

	base := base64.RawURLEncoding.EncodeToString([]byte(raw))
	if len(base) <= maxBaseLen {
		return base
	}
	sum := sha256.Sum256([]byte(raw))
	return hashedPrefix + hex.EncodeToString(sum[:])
}

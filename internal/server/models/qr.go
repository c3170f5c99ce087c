package models

import (
	"fmt"
	"time"
)

// Origin records how the payload of a QR record was obtained.
type Origin string

const (
	OriginDirectValue Origin = "DIRECT_VALUE"
	OriginImageData   Origin = "IMAGE_DATA"
	OriginImageFile   Origin = "IMAGE_FILE"
)

func ParseOrigin(s string) (Origin, error) {
	switch Origin(s) {
	case OriginDirectValue, OriginImageData, OriginImageFile:
		return Origin(s), nil
	default:
		return "", fmt.Errorf("unknown origin %q", s)
	}
}

func (o Origin) String() string { return string(o) }

// QRRecord is a decoded QR payload owned by exactly one user.
type QRRecord struct {
	ID      string
	Path    string
	Data    string
	Origin  Origin
	OwnerID string
	// ImageKey is the object-storage key of the uploaded image, empty when
	// nothing was stored.
	ImageKey  string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

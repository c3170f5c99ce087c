package models

import (
	"fmt"

	"github.com/ken-lyk/qrkeeper/internal/common"
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 100
)

// Page is an offset/limit window over a listing.
type Page struct {
	Offset int
	Limit  int
}

// DefaultPage returns the first page with the default limit.
func DefaultPage() Page {
	return Page{Offset: 0, Limit: DefaultPageLimit}
}

// NewPage validates offset and limit. Both bounds failures wrap
// common.ErrorValidation.
func NewPage(offset, limit int) (Page, error) {
	if offset < 0 {
		return Page{}, fmt.Errorf("%w: offset must be >= 0, got %d", common.ErrorValidation, offset)
	}
	if limit < 1 || limit > MaxPageLimit {
		return Page{}, fmt.Errorf("%w: limit must be between 1 and %d, got %d", common.ErrorValidation, MaxPageLimit, limit)
	}
	return Page{Offset: offset, Limit: limit}, nil
}

package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an asset or its primary rendition does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAssetTooLarge indicates a rendition exceeds the configured read limit.
	ErrAssetTooLarge = errors.New("asset exceeds size limit")
)

// DecodeError reports an asset that could not be parsed as its claimed format.
type DecodeError struct {
	AssetID string
	Format  Format
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s asset %s: %v", e.Format, e.AssetID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StoreError reports a failed asset store query for one content type.
type StoreError struct {
	ContentType string
	Err         error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("asset store query for %s: %v", e.ContentType, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

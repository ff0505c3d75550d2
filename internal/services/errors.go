package services

import "errors"

// ErrInvalidFileType marks a download request for a format no exporter
// produces; handlers map it to a 400 rather than a 500.
var ErrInvalidFileType = errors.New("invalid file type")

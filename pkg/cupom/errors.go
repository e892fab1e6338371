package cupom

import "errors"

// ErrNotImage is returned when uploaded bytes cannot be decoded as an image.
var ErrNotImage = errors.New("not an image")

// ErrNoTotal is returned when no monetary total can be extracted from the
// OCR text. This is an expected outcome for poor photographs or unsupported
// receipt layouts, not a processing fault.
var ErrNoTotal = errors.New("no total found")

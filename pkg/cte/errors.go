package cte

import "errors"

// ErrNoQRCode is returned when no QR code can be decoded from the image.
var ErrNoQRCode = errors.New("no qr code found")

// ErrNoData is returned when the consultation page yields no recognizable
// CT-e fields. Portal layouts vary between states and change without
// notice; this is an expected failure mode.
var ErrNoData = errors.New("no cte data found")

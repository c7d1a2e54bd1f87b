package eventstream

import "errors"

// ErrNilFlushEvent indicates a nil flush event payload was provided to a publisher.
var ErrNilFlushEvent = errors.New("nil flush event")

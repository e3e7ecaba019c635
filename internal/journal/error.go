package journal

import "errors"

// ErrUnknownInverse is an error that occurs when an [Entry] holds an
// [Inverse] that the [Journal] does not know how to replay.
var ErrUnknownInverse = errors.New("unknown inverse")

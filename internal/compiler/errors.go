package compiler

import "errors"

// ErrPreambleChanged is returned by Finish when the source's preamble
// differs from the snapshot captured at Enter.
var ErrPreambleChanged = errors.New("preamble changed")

// ErrAlreadyFinished guards against calling Finish more than once per
// instance.
var ErrAlreadyFinished = errors.New("finish called more than once")

// ErrNotEntered guards against calling Finish before Enter has
// succeeded.
var ErrNotEntered = errors.New("finish called before enter")

// ErrMirrorFailure wraps a failure to mirror staged artifacts back to
// the real output directory. It is best-effort: the compile itself
// already succeeded by the time this can occur.
var ErrMirrorFailure = errors.New("mirroring staged artifacts failed")

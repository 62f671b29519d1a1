package shredding

import "errors"

// ErrStorage marks run failures caused by the compliance store. Such runs end
// in the failed state with nothing committed.
var ErrStorage = errors.New("compliance store failure")

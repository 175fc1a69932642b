package updateprocessor

import "errors"

// ErrConflict is returned when an incoming update disagrees with an already
// terminal stored status (spec §7 Conflict/LostUpdate, §8 idempotence law).
var ErrConflict = errors.New("update conflicts with stored terminal status")

// ErrOperationMissing is returned when a work item's step has no loadable
// operation template (spec §7 "Operation-template missing").
var ErrOperationMissing = errors.New("operation template missing for step")

package ledger

import (
	"context"
	"errors"
)

// ErrNoAutoJournal signals that no posting template applies to the event.
// Not a failure: the movement simply carries no financial posting.
var ErrNoAutoJournal = errors.New("ledger: no auto-journal applies to event")

// MovementPostedEvent notifies downstream modules that a movement committed.
type MovementPostedEvent struct {
	Entry Entry
}

// IntegrationHandler receives movement events after the ledger transaction
// commits. The auto-journal generator implements this.
type IntegrationHandler interface {
	HandleMovementPosted(ctx context.Context, evt MovementPostedEvent) error
}

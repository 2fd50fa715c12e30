package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a referenced stage, project or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input that can never succeed, however often it is retried.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned by a Store when a guarded insert lost a race.
	ErrConflict = errors.New("conflict")
)

// InconsistencyError reports more than one stage sharing an ordinal within a project.
type InconsistencyError struct {
	ProjectID   uuid.UUID
	StageNumber int
	Count       int
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("project %s has %d stages numbered %d", e.ProjectID, e.Count, e.StageNumber)
}

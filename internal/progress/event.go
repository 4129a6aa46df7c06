package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the milestone an Event reports.
type Stage string

// Run and entity stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageEntityStart  Stage = "ENTITY_START"
	StageEntityDone   Stage = "ENTITY_DONE"
	StageEntityEmpty  Stage = "ENTITY_EMPTY"
	StageFieldMissing Stage = "FIELD_MISSING"
)

// Event is one progress observation.
type Event struct {
	// RunID is the 16-byte form of the run UUID.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Mode is the crawl mode of the run (listing, detail, single).
	Mode string
	// URL is the entity page for ENTITY_* and FIELD_MISSING events.
	URL string
	// Field names the field for FIELD_MISSING events.
	Field string
	// Fields counts the fields captured for ENTITY_DONE events.
	Fields int
	// Dur is the entity crawl time or the whole run time.
	Dur time.Duration
	// Note holds short free-form context such as an error message.
	Note string
}

// Validate rejects events sinks cannot attribute.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageEntityStart, StageEntityDone, StageEntityEmpty:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageFieldMissing:
		if e.URL == "" || e.Field == "" {
			return errors.New("field missing requires url and field")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts RunID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	return [16]byte(id)
}

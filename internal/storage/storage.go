package storage

import "orbitalEngine/internal/model"

// Storage defines a sink for event records.
type Storage interface {
	PutEventBatch(events []model.EventRecord) error
}

package domain

import "time"

// ContentKind classifies broadcast payloads.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentPhoto    ContentKind = "photo"
	ContentVideo    ContentKind = "video"
	ContentDocument ContentKind = "document"
)

// Broadcast is the append-only audit record of one confirmed broadcast.
type Broadcast struct {
	ID         int64
	ComposerID PartyID
	Kind       ContentKind
	ContentRef string
	Text       string
	Delivered  int
	Failed     int
	CreatedAt  time.Time
}

package catalog

import "time"

// Objection is one scripted client pushback the user trains against.
// Rows are seeded by migrations and read-only at runtime.
type Objection struct {
	ID         string
	Text       string
	CategoryID string
	Difficulty int
	CreatedAt  time.Time
}

// Category groups objections for menu filtering.
type Category struct {
	ID          string
	Name        string
	Description string
}

package model

import "time"

// UpcomingExport is the JSON document written by the tasks command.
type UpcomingExport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Groups      []string        `json:"groups"`
	Tasks       []Task          `json:"tasks"`
	Failures    []SourceFailure `json:"failures,omitempty"`
}

// SourceFailure records a group whose task fetch failed during aggregation.
type SourceFailure struct {
	GroupID string `json:"group_id"`
	Error   string `json:"error"`
}

// TaskImport is used for loading tasks from JSON.
type TaskImport struct {
	ID          string `json:"id"`
	GroupID     string `json:"group_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Due         any    `json:"due"`
}

// ResourceImport is used for loading resources from JSON.
type ResourceImport struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Topic       string    `json:"topic"`
	Tags        []string  `json:"tags"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

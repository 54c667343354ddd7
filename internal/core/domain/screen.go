package domain

// ScreenKind selects the set of sections a screen loads.
type ScreenKind string

const (
	ScreenHome    ScreenKind = "home"
	ScreenTopic   ScreenKind = "topic"
	ScreenProfile ScreenKind = "profile"
)

// SectionItem is one rendered row of a section.
type SectionItem struct {
	Ref    EntityRef       `json:"ref"`
	Entity *Entity         `json:"entity,omitempty"`
	User   *UserProjection `json:"user,omitempty"`
	Owner  *UserProjection `json:"owner,omitempty"`
}

// ScreenSnapshot is a read-only copy of what a screen currently displays.
type ScreenSnapshot struct {
	ScreenID string                    `json:"screenId"`
	Kind     ScreenKind                `json:"kind"`
	Topic    string                    `json:"topic"`
	Loaded   bool                      `json:"loaded"`
	Sections map[Section][]SectionItem `json:"sections"`
}

// UpdateType defines the type of presentation update pushed to a screen's client.
type UpdateType string

const (
	UpdateReveal  UpdateType = "REVEAL"
	UpdateRefresh UpdateType = "REFRESH"
	UpdateRemoved UpdateType = "REMOVED"
	UpdateAppend  UpdateType = "APPEND"
)

// ScreenUpdate is the payload pushed to presentation clients.
type ScreenUpdate struct {
	Type     UpdateType  `json:"type"`
	ScreenID string      `json:"screenId"`
	Ref      EntityRef   `json:"ref,omitempty"`
	Section  Section     `json:"section,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

package model

import "time"

// Foresight is a forward-looking memory record (a plan, reminder, or
// expectation) with a validity window. Extraction is out of this system's
// scope; Foresight records are read-only inputs to the retrieval engine
// (spec §4.4 "foresight" data source).
type Foresight struct {
	ID        string
	UserID    string
	GroupID   string
	Subject   string
	Content   string
	StartTime *time.Time
	EndTime   *time.Time
	Extend    Extend
}

// ValidAt reports whether t falls within [StartTime, EndTime] when both
// bounds are present; absent bounds impose no constraint on that side.
func (f Foresight) ValidAt(t time.Time) bool {
	if f.StartTime != nil && t.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && t.After(*f.EndTime) {
		return false
	}
	return true
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// Evidence is a "YYYY-MM-DD|conversation_id" pointer back to a MemCell.
type Evidence string

// FormatEvidence builds an Evidence string from a date and conversation id.
func FormatEvidence(date time.Time, conversationID string) Evidence {
	return Evidence(fmt.Sprintf("%s|%s", date.Format("2006-01-02"), conversationID))
}

// ConversationID returns the conversation_id portion of the evidence, or ""
// if the evidence is malformed.
func (e Evidence) ConversationID() string {
	_, cid, ok := e.split()
	if !ok {
		return ""
	}
	return cid
}

// Date returns the parsed date portion, and whether parsing succeeded.
func (e Evidence) Date() (time.Time, bool) {
	d, _, ok := e.split()
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", d)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (e Evidence) split() (date, cid string, ok bool) {
	s := string(e)
	i := strings.IndexByte(s, '|')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// Level ranks the priority of a scalar evidence field's level string.
// Higher wins on merge (spec §3 UserProfile invariants).
func Level(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expert", "high", "strong", "advanced":
		return 3
	case "medium", "intermediate":
		return 2
	case "low", "basic", "beginner", "familiar", "weak":
		return 1
	default:
		return 0
	}
}

// EvidenceEntry is one evidence-bearing value for a scalar UserProfile
// field: {value, level?, evidences}.
type EvidenceEntry struct {
	Value     string
	Level     string
	Evidences []Evidence
}

// ProjectListItem is one element of a nested project list (subtasks,
// contributions, user_concerns), each carrying its own evidences.
type ProjectListItem struct {
	Type      string
	Text      string
	Evidences []Evidence
}

// ProjectEntry is one project in UserProfile.ProjectsParticipated.
type ProjectEntry struct {
	ProjectID      string
	ProjectName    string
	EntryDate      string
	Subtasks       []ProjectListItem
	UserObjective  []ProjectListItem
	Contributions  []ProjectListItem
	UserConcerns   []ProjectListItem
}

// extract.go implements the LLM-driving half of UserProfile extraction
// (spec §4.3.3): building the batch conversation text, running the 3
// extraction prompts, the evidence-completion pass, and sanitizing the
// result. The merge half (MergeLevelField, MergeUserProfile, ...) is pure
// and lives in evidence.go/user_profile.go.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"evermemcore/internal/llm"
	"evermemcore/internal/memory/llmjson"
	"evermemcore/internal/memory/model"
)

// Generator is the subset of llm.Provider the profile extractors need.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// UserProfileExtractor runs the three-part UserProfile extraction pass.
type UserProfileExtractor struct {
	gen        Generator
	maxRetries int
}

// NewUserProfileExtractor builds an UserProfileExtractor.
func NewUserProfileExtractor(gen Generator) *UserProfileExtractor {
	return &UserProfileExtractor{gen: gen, maxRetries: 2}
}

// fieldGroups partitions UserProfile's scalar evidence fields across the
// three extraction prompts (spec §4.3.3 step 2). The split follows the
// prompt's own grouping names; ProjectsParticipated rides along with part 2
// since the original groups "projects_participated" there too.
var (
	part1Fields = []string{"hard_skills", "soft_skills", "personality", "way_of_decision_making", "working_habit_preference"}
	part2Fields = []string{"work_responsibility", "tendency"}
	part3Fields = []string{"motivation_system", "fear_system", "value_system", "humor_use", "colloquialism", "interests", "user_goal", "output_reasoning"}
)

// allowedTendencyTypes is the closed set spec §4.3.3 step 4 filters
// opinion_tendency entries to.
var allowedTendencyTypes = map[string]struct{}{
	"stance": {}, "suggestion": {}, "his own opinion": {},
}

// BuildConversationText joins each MemCell's messages into one annotated
// text, separated by MEMCELL_ID markers (spec §4.3.3 step 1), and collects
// the speaker-name map seen across the batch.
func BuildConversationText(cells []*model.MemCell, historicalNames map[string]string) (string, map[string]string) {
	names := make(map[string]string, len(historicalNames))
	for id, name := range historicalNames {
		names[id] = name
	}

	var b strings.Builder
	for _, c := range cells {
		fmt.Fprintf(&b, "MEMCELL_ID: %s\n", c.EventID)
		for _, m := range c.OriginalData {
			if m.SpeakerName != "" {
				names[m.SpeakerID] = m.SpeakerName
			}
			fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.SpeakerID, m.Content)
		}
		b.WriteString("\n")
	}
	return b.String(), names
}

type evidenceEntryWire struct {
	Value     string   `json:"value"`
	Level     string   `json:"level,omitempty"`
	Evidences []string `json:"evidences"`
}

type projectListItemWire struct {
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	Evidences []string `json:"evidences"`
}

type projectEntryWire struct {
	ProjectID     string                `json:"project_id"`
	ProjectName   string                `json:"project_name"`
	EntryDate     string                `json:"entry_date"`
	Subtasks      []projectListItemWire `json:"subtasks"`
	UserObjective []projectListItemWire `json:"user_objective"`
	Contributions []projectListItemWire `json:"contributions"`
	UserConcerns  []projectListItemWire `json:"user_concerns"`
}

type userProfilePartWire struct {
	UserID               string                         `json:"user_id"`
	Fields               map[string][]evidenceEntryWire `json:"-"`
	ProjectsParticipated []projectEntryWire             `json:"projects_participated,omitempty"`
}

// rawPartWire is the on-wire shape: field groups arrive as top-level keys
// alongside user_id, so we decode into a map first and pull user_id/
// projects_participated out of it.
type rawPartWire map[string]json.RawMessage

func decodePartResponse(reply string, fieldNames []string) (map[string]userProfilePartWire, error) {
	obj, err := llmjson.Extract(reply)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		UserProfiles []rawPartWire `json:"user_profiles"`
	}
	if err := json.Unmarshal(obj, &wrapper); err != nil {
		return nil, fmt.Errorf("profile: parse part response: %w", err)
	}

	out := make(map[string]userProfilePartWire, len(wrapper.UserProfiles))
	for _, raw := range wrapper.UserProfiles {
		var uid string
		if v, ok := raw["user_id"]; ok {
			_ = json.Unmarshal(v, &uid)
		}
		if uid == "" {
			continue
		}
		p := userProfilePartWire{UserID: uid, Fields: make(map[string][]evidenceEntryWire)}
		for _, name := range fieldNames {
			v, ok := raw[name]
			if !ok {
				continue
			}
			var entries []evidenceEntryWire
			if err := json.Unmarshal(v, &entries); err != nil {
				continue
			}
			p.Fields[name] = entries
		}
		if v, ok := raw["projects_participated"]; ok {
			_ = json.Unmarshal(v, &p.ProjectsParticipated)
		}
		out[uid] = p
	}
	return out, nil
}

func buildPartPrompt(label string, fieldNames []string, conversationText string, speakerNames map[string]string) string {
	names := make([]string, 0, len(speakerNames))
	for id, name := range speakerNames {
		names = append(names, fmt.Sprintf("%s=%s", id, name))
	}
	sort.Strings(names)

	return fmt.Sprintf(
		"You are extracting %s for each participant from the conversation below.\n\n"+
			"Speakers: %s\n\nConversation:\n%s\n\n"+
			`Respond with a single JSON object: {"user_profiles": [{"user_id": string, %s}]}`+"\n"+
			"Each listed field is an array of {\"value\": string, \"level\": string (optional), \"evidences\": [conversation_id, ...]}.",
		label, strings.Join(names, ", "), conversationText, wireFieldList(fieldNames),
	)
}

func wireFieldList(fieldNames []string) string {
	parts := make([]string, len(fieldNames))
	for i, f := range fieldNames {
		parts[i] = fmt.Sprintf(`%q: [...]`, f)
	}
	return strings.Join(parts, ", ")
}

// Extract runs the full UserProfile extraction pass (spec §4.3.3 steps
// 1-4) over cells, returning one sanitized (but not yet cross-group
// merged) incoming profile per user. historicalNames seeds the speaker
// map with names already known from prior profiles.
func (x *UserProfileExtractor) Extract(ctx context.Context, groupID string, cells []*model.MemCell, historicalNames map[string]string) (map[string]*model.UserProfile, error) {
	conversationText, names := BuildConversationText(cells, historicalNames)
	bc := NewBatchContext(cells)

	parts := []struct {
		label  string
		fields []string
	}{
		{"hard/soft skills, personality, decision-making and working-habit preference", part1Fields},
		{"work responsibility, opinion tendency and projects participated", part2Fields},
		{"a 90-dimension preference profile (motivation, fear, values, humor, colloquialism, interests, goals, reasoning)", part3Fields},
	}

	profiles := make(map[string]*model.UserProfile)
	ensure := func(userID string) *model.UserProfile {
		if p, ok := profiles[userID]; ok {
			return p
		}
		p := &model.UserProfile{UserID: userID, GroupID: groupID, UserName: names[userID]}
		profiles[userID] = p
		return p
	}

	for _, part := range parts {
		resp, err := x.runPart(ctx, part.label, part.fields, conversationText, names)
		if err != nil {
			return nil, fmt.Errorf("profile: extract part %q: %w", part.label, err)
		}
		for userID, wire := range resp {
			p := ensure(userID)
			applyFieldWire(p, wire, bc, userID)
			if len(wire.ProjectsParticipated) > 0 {
				incoming := FilterProjectItemTypes(decodeProjects(wire.ProjectsParticipated, bc))
				p.ProjectsParticipated = MergeProjects(p.ProjectsParticipated, incoming)
			}
		}
	}

	for userID, p := range profiles {
		x.completeMissingEvidence(ctx, p, conversationText, bc, userID)
		SanitizeUserProfile(p, bc)
		dropEmptyEntries(p)
	}
	return profiles, nil
}

func (x *UserProfileExtractor) runPart(ctx context.Context, label string, fields []string, conversationText string, names map[string]string) (map[string]userProfilePartWire, error) {
	prompt := buildPartPrompt(label, fields, conversationText, names)
	var lastErr error
	for attempt := 0; attempt < x.maxRetries; attempt++ {
		reply, err := x.gen.Generate(ctx, prompt, llm.Options{})
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := decodePartResponse(reply, fields)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	// Final repair attempt: ask the model to fix its own malformed JSON.
	repairPrompt := "The following was supposed to be valid JSON but failed to parse. Return only the corrected JSON object, same schema:\n\n" + prompt
	reply, err := x.gen.Generate(ctx, repairPrompt, llm.Options{})
	if err != nil {
		return nil, fmt.Errorf("profile: repair attempt failed: %w: %v", err, lastErr)
	}
	resp, err := decodePartResponse(reply, fields)
	if err != nil {
		return nil, fmt.Errorf("profile: repair attempt unparseable: %w: %v", err, lastErr)
	}
	return resp, nil
}

func applyFieldWire(p *model.UserProfile, wire userProfilePartWire, bc BatchContext, userID string) {
	fields := p.LevelFields()
	for name, entries := range wire.Fields {
		field, ok := fields[name]
		if !ok {
			continue
		}
		decoded := make([]model.EvidenceEntry, 0, len(entries))
		for _, e := range entries {
			if name == "tendency" && !tendencyAllowed(e.Level) {
				continue
			}
			decoded = append(decoded, model.EvidenceEntry{
				Value:     e.Value,
				Level:     e.Level,
				Evidences: formatEvidenceIDs(e.Evidences, bc),
			})
		}
		*field = decoded
	}
}

// tendencyAllowed filters opinion_tendency entries by the closed type set
// (spec §4.3.3 step 4 bullet 4); Level doubles as the wire "type" for this
// field since EvidenceEntry has no separate type column.
func tendencyAllowed(typ string) bool {
	if typ == "" {
		return true
	}
	_, ok := allowedTendencyTypes[strings.ToLower(typ)]
	return ok
}

func formatEvidenceIDs(conversationIDs []string, bc BatchContext) []model.Evidence {
	out := make([]model.Evidence, 0, len(conversationIDs))
	for _, cid := range conversationIDs {
		ev, ok := bc.FormatEvidence(cid)
		if !ok {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func decodeProjects(wire []projectEntryWire, bc BatchContext) []model.ProjectEntry {
	out := make([]model.ProjectEntry, 0, len(wire))
	for _, w := range wire {
		out = append(out, model.ProjectEntry{
			ProjectID:     w.ProjectID,
			ProjectName:   w.ProjectName,
			EntryDate:     w.EntryDate,
			Subtasks:      decodeProjectItems(w.Subtasks, bc),
			UserObjective: decodeProjectItems(w.UserObjective, bc),
			Contributions: decodeProjectItems(w.Contributions, bc),
			UserConcerns:  decodeProjectItems(w.UserConcerns, bc),
		})
	}
	return out
}

func decodeProjectItems(wire []projectListItemWire, bc BatchContext) []model.ProjectListItem {
	out := make([]model.ProjectListItem, 0, len(wire))
	for _, w := range wire {
		out = append(out, model.ProjectListItem{Type: w.Type, Text: w.Text, Evidences: formatEvidenceIDs(w.Evidences, bc)})
	}
	return out
}

// completeMissingEvidence implements spec §4.3.3 step 3's evidence
// completion pass: entries missing evidences are re-presented to the model
// alongside the conversation text; the response overlays only evidences
// matched by Value.
func (x *UserProfileExtractor) completeMissingEvidence(ctx context.Context, p *model.UserProfile, conversationText string, bc BatchContext, userID string) {
	missing := missingEvidenceValues(p)
	if len(missing) == 0 {
		return
	}
	prompt := fmt.Sprintf(
		"The following profile entries for user %s are missing supporting evidence. Find the conversation_id(s) in the conversation below that support each one.\n\nEntries: %s\n\nConversation:\n%s\n\n"+
			`Respond with a single JSON object: {"completions": [{"value": string, "evidences": [conversation_id, ...]}]}`,
		userID, strings.Join(missing, ", "), conversationText,
	)
	reply, err := x.gen.Generate(ctx, prompt, llm.Options{})
	if err != nil {
		return
	}
	obj, err := llmjson.Extract(reply)
	if err != nil {
		return
	}
	var resp struct {
		Completions []struct {
			Value     string   `json:"value"`
			Evidences []string `json:"evidences"`
		} `json:"completions"`
	}
	if err := json.Unmarshal(obj, &resp); err != nil {
		return
	}
	byValue := make(map[string][]model.Evidence, len(resp.Completions))
	for _, c := range resp.Completions {
		byValue[c.Value] = formatEvidenceIDs(c.Evidences, bc)
	}
	overlayEvidence(p, byValue)
}

func missingEvidenceValues(p *model.UserProfile) []string {
	var out []string
	for _, field := range p.LevelFields() {
		for _, e := range *field {
			if len(e.Evidences) == 0 {
				out = append(out, e.Value)
			}
		}
	}
	return out
}

func overlayEvidence(p *model.UserProfile, byValue map[string][]model.Evidence) {
	for _, field := range p.LevelFields() {
		for i := range *field {
			e := &(*field)[i]
			if len(e.Evidences) > 0 {
				continue
			}
			if ev, ok := byValue[e.Value]; ok {
				e.Evidences = ev
			}
		}
	}
}

// dropEmptyEntries removes entries whose evidence list is empty after
// sanitization, recursively into project list items too (spec §4.3.3 step
// 4 bullet 6).
func dropEmptyEntries(p *model.UserProfile) {
	for _, field := range p.LevelFields() {
		kept := (*field)[:0]
		for _, e := range *field {
			if len(e.Evidences) == 0 {
				continue
			}
			kept = append(kept, e)
		}
		*field = kept
	}
	projects := p.ProjectsParticipated[:0]
	for _, proj := range p.ProjectsParticipated {
		proj.Subtasks = dropEmptyItems(proj.Subtasks)
		proj.UserObjective = dropEmptyItems(proj.UserObjective)
		proj.Contributions = dropEmptyItems(proj.Contributions)
		proj.UserConcerns = dropEmptyItems(proj.UserConcerns)
		projects = append(projects, proj)
	}
	p.ProjectsParticipated = projects
}

func dropEmptyItems(items []model.ProjectListItem) []model.ProjectListItem {
	out := items[:0]
	for _, it := range items {
		if len(it.Evidences) == 0 {
			continue
		}
		out = append(out, it)
	}
	return out
}

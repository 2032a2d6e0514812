package domain

import "encoding/json"

// FormStatus is the workflow status of a compliance form.
type FormStatus string

const (
	StatusDraft                  FormStatus = "draft"
	StatusPendingInternalReview  FormStatus = "pending_internal_review"
	StatusCorrectionsInternal    FormStatus = "corrections_needed_internal"
	StatusPendingAuthorityReview FormStatus = "pending_authority_review"
	StatusCorrectionsAuthority   FormStatus = "corrections_needed_authority"
	StatusApproved               FormStatus = "approved"
)

// FormStatuses lists every valid form status.
var FormStatuses = []FormStatus{
	StatusDraft,
	StatusPendingInternalReview,
	StatusCorrectionsInternal,
	StatusPendingAuthorityReview,
	StatusCorrectionsAuthority,
	StatusApproved,
}

// Valid reports whether s is a known form status.
func (s FormStatus) Valid() bool {
	for _, known := range FormStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// StepStatus is the completion status of a single form step.
type StepStatus string

const (
	StepIncomplete StepStatus = "incomplete"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepRejected   StepStatus = "rejected"
)

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepIncomplete, StepInProgress, StepCompleted, StepRejected:
		return true
	}
	return false
}

// Role identifies what a user may do across the workflow.
type Role string

const (
	RoleCreator           Role = "creator"
	RoleInternalReviewer  Role = "internal_reviewer"
	RoleAuthorityReviewer Role = "authority_reviewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCreator, RoleInternalReviewer, RoleAuthorityReviewer:
		return true
	}
	return false
}

// User is the verified identity attached to every request. The core trusts
// it verbatim; signature verification happens at the HTTP boundary.
type User struct {
	Sub      string `json:"sub"`
	Role     Role   `json:"role"`
	ClientID string `json:"client_id"`
}

// Comment is an immutable annotation on a step. Comments are never edited
// or deleted.
type Comment struct {
	ID        string `json:"id"`
	StepID    StepID `json:"step_id"`
	Text      string `json:"text"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
	Role      Role   `json:"role"`
}

// Step is one of the seven fixed sections of a form.
type Step struct {
	ID              StepID          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Status          StepStatus      `json:"status" enum:"incomplete,in-progress,completed,rejected"`
	Data            json.RawMessage `json:"data"`
	Comments        []Comment       `json:"comments"`
	NeedsCorrection bool            `json:"needs_correction"`
	LastUpdatedBy   string          `json:"last_updated_by"`
	LastUpdatedAt   string          `json:"last_updated_at" format:"date-time"`
}

// Form is the single workflow document owned by one client.
type Form struct {
	ClientID      string           `json:"client_id"`
	Status        FormStatus       `json:"status"`
	Steps         map[StepID]*Step `json:"steps"`
	CreatedBy     string           `json:"created_by"`
	CreatedAt     string           `json:"created_at" format:"date-time"`
	LastUpdatedBy string           `json:"last_updated_by"`
	LastUpdatedAt string           `json:"last_updated_at" format:"date-time"`
	ApprovedBy    string           `json:"approved_by,omitempty"`
	ApprovedAt    string           `json:"approved_at,omitempty" format:"date-time"`
}

// Clone returns a deep copy. The entity actor hands clones across its
// boundary so no caller ever shares step or comment storage with the
// canonical form.
func (f *Form) Clone() *Form {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Steps = make(map[StepID]*Step, len(f.Steps))
	for id, s := range f.Steps {
		sc := *s
		sc.Data = append(json.RawMessage(nil), s.Data...)
		sc.Comments = append([]Comment(nil), s.Comments...)
		cp.Steps[id] = &sc
	}
	return &cp
}

// Step returns the named step or nil.
func (f *Form) Step(id StepID) *Step {
	if f.Steps == nil {
		return nil
	}
	return f.Steps[id]
}

// StepsNeedingCorrection lists ids of steps still flagged for correction,
// in catalog order.
func (f *Form) StepsNeedingCorrection() []StepID {
	var flagged []StepID
	for _, id := range StepOrder {
		if s := f.Steps[id]; s != nil && s.NeedsCorrection {
			flagged = append(flagged, id)
		}
	}
	return flagged
}

// Title derives a human title for the form from the information step.
func (f *Form) Title() string {
	if s := f.Step(StepInformation); s != nil && len(s.Data) > 0 {
		var info InformationData
		if err := json.Unmarshal(s.Data, &info); err == nil && info.Name != "" {
			return info.Name
		}
	}
	return "Form " + f.ClientID
}

// IndexEntry is the denormalized per-form summary held by the index actor.
// It may be stale relative to the authoritative form.
type IndexEntry struct {
	ClientID      string     `json:"client_id"`
	Status        FormStatus `json:"status"`
	LastUpdatedAt string     `json:"last_updated_at" format:"date-time"`
	CreatedBy     string     `json:"created_by"`
	Title         string     `json:"title"`
}

// Summarize builds the index entry for a form.
func (f *Form) Summarize() IndexEntry {
	return IndexEntry{
		ClientID:      f.ClientID,
		Status:        f.Status,
		LastUpdatedAt: f.LastUpdatedAt,
		CreatedBy:     f.CreatedBy,
		Title:         f.Title(),
	}
}

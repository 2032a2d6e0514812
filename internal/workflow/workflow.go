package workflow

import "cseflow/internal/domain"

// Action is a closed enumeration of everything a user can attempt against
// a form. Dispatch is by switch so new actions cannot be added silently.
type Action int

const (
	ActionCreate Action = iota
	ActionEdit
	ActionSubmitToInternalReview
	ActionSubmitToAuthorityReview
	ActionApprove
	ActionRequestCorrections
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionEdit:
		return "edit"
	case ActionSubmitToInternalReview:
		return "submit_to_internal_review"
	case ActionSubmitToAuthorityReview:
		return "submit_to_authority_review"
	case ActionApprove:
		return "approve"
	case ActionRequestCorrections:
		return "request_corrections"
	}
	return "unknown"
}

// validTransitions is the full directed graph of allowed status changes.
// corrections_needed_authority deliberately reverts to internal review, not
// straight back to the authority queue: corrected content passes the
// internal reviewer again before the authority sees it.
var validTransitions = map[domain.FormStatus][]domain.FormStatus{
	domain.StatusDraft: {domain.StatusPendingInternalReview},
	domain.StatusPendingInternalReview: {
		domain.StatusCorrectionsInternal,
		domain.StatusPendingAuthorityReview,
	},
	domain.StatusCorrectionsInternal: {domain.StatusPendingInternalReview},
	domain.StatusPendingAuthorityReview: {
		domain.StatusCorrectionsAuthority,
		domain.StatusApproved,
	},
	domain.StatusCorrectionsAuthority: {domain.StatusPendingInternalReview},
	domain.StatusApproved:             {},
}

// CanTransition reports whether the status change from -> to is allowed.
func CanTransition(from, to domain.FormStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CorrectionRevertTarget returns the pending-review status a form reverts to
// once every flagged step has been corrected.
func CorrectionRevertTarget(from domain.FormStatus) (domain.FormStatus, bool) {
	switch from {
	case domain.StatusCorrectionsInternal, domain.StatusCorrectionsAuthority:
		return domain.StatusPendingInternalReview, true
	}
	return "", false
}

// IsCorrectionsStatus reports whether s is one of the two corrections-needed
// statuses.
func IsCorrectionsStatus(s domain.FormStatus) bool {
	return s == domain.StatusCorrectionsInternal || s == domain.StatusCorrectionsAuthority
}

// ReviewerFor returns the role that owns review while the form sits in s.
func ReviewerFor(s domain.FormStatus) (domain.Role, bool) {
	switch s {
	case domain.StatusPendingInternalReview:
		return domain.RoleInternalReviewer, true
	case domain.StatusPendingAuthorityReview:
		return domain.RoleAuthorityReviewer, true
	}
	return "", false
}

// HasPermission evaluates whether user may perform action. formStatus and
// formClientID are optional context: an empty formClientID skips the tenant
// gate, an empty formStatus fails any status-conditional action.
//
// The authority reviewer is exempt from the per-client restriction and may
// act across all clients.
func HasPermission(user domain.User, action Action, formStatus domain.FormStatus, formClientID string) bool {
	if formClientID != "" && user.ClientID != formClientID && user.Role != domain.RoleAuthorityReviewer {
		return false
	}
	switch user.Role {
	case domain.RoleCreator:
		switch action {
		case ActionCreate, ActionSubmitToInternalReview:
			return true
		case ActionEdit:
			return formStatus == domain.StatusDraft || IsCorrectionsStatus(formStatus)
		}
	case domain.RoleInternalReviewer:
		switch action {
		case ActionSubmitToAuthorityReview:
			return true
		case ActionRequestCorrections:
			return formStatus == domain.StatusPendingInternalReview
		}
	case domain.RoleAuthorityReviewer:
		switch action {
		case ActionApprove, ActionRequestCorrections:
			return formStatus == domain.StatusPendingAuthorityReview
		}
	}
	return false
}

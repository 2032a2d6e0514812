// Package form implements the per-client entity actor that owns the
// canonical compliance form and guards every mutation with the workflow
// permission and transition tables.
package form

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"cseflow/internal/actor"
	"cseflow/internal/domain"
	"cseflow/internal/events"
	"cseflow/internal/workflow"
)

// stateKey is the single logical record each entity actor persists.
const stateKey = "form"

// ActorID derives the entity actor identity for a client. Identity is a
// pure function of the client id; there is no registry.
func ActorID(clientID string) actor.ID {
	return actor.ID("form:" + clientID)
}

// Notifier delivers form summaries to the index. Implementations must not
// be relied on to succeed; the actor commits first and only logs failures.
type Notifier interface {
	UpdateIndex(ctx context.Context, entry domain.IndexEntry) error
}

// Actor is the single-writer owner of one client's form. The host delivers
// calls one at a time, so read-modify-write sequences need no locking.
type Actor struct {
	clientID string
	state    *actor.State[*domain.Form]
	mux      actor.Mux
	notifier Notifier
	events   events.Writer
	logger   *log.Logger
	now      func() time.Time
}

type Options struct {
	Store    actor.Store
	Notifier Notifier
	Events   events.Writer
	Logger   *log.Logger
	Now      func() time.Time
}

// New builds the entity actor for clientID and registers its routes.
func New(clientID string, opts Options) *Actor {
	a := &Actor{
		clientID: clientID,
		state:    actor.NewState[*domain.Form](opts.Store, ActorID(clientID), stateKey),
		notifier: opts.Notifier,
		events:   opts.Events,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if a.logger == nil {
		a.logger = log.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}

	a.mux.Handle("POST", "/initialize", a.handleInitialize)
	a.mux.Handle("GET", "/form", a.handleGet)
	a.mux.Handle("POST", "/steps/:stepID", a.handleUpdateStep)
	a.mux.Handle("POST", "/steps/:stepID/comments", a.handleAddComment)
	a.mux.Handle("POST", "/submit", a.handleSubmit)
	a.mux.Handle("POST", "/internal-review/approve", a.handleInternalApprove)
	a.mux.Handle("POST", "/internal-review/request-corrections", a.handleInternalCorrections)
	a.mux.Handle("POST", "/authority-review/approve", a.handleAuthorityApprove)
	a.mux.Handle("POST", "/authority-review/request-corrections", a.handleAuthorityCorrections)
	return a
}

// Dispatch satisfies actor.Actor.
func (a *Actor) Dispatch(ctx context.Context, req actor.Request) (any, error) {
	return a.mux.Dispatch(ctx, req)
}

func (a *Actor) timestamp() string {
	return a.now().UTC().Format(time.RFC3339)
}

// Initialize returns the existing form or creates a draft with all seven
// steps. Idempotent: repeated calls never reset an existing form.
func (a *Actor) Initialize(ctx context.Context, user domain.User) (*domain.Form, error) {
	existing, ok, err := a.state.Get(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return existing.Clone(), nil
	}
	f := domain.NewForm(a.clientID, user.Sub, a.timestamp())
	if err := a.state.Set(ctx, f); err != nil {
		return nil, err
	}
	a.audit(ctx, events.FormInitialized, user.Sub, events.Detail{"status": f.Status})
	return f.Clone(), nil
}

// Get returns a copy of the current form. Handlers never expose the
// canonical value: the host lock only covers the dispatch, and callers
// read the result after it is released.
func (a *Actor) Get(ctx context.Context) (*domain.Form, error) {
	f, ok, err := a.state.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &workflow.NotFoundError{Resource: "form", ID: a.clientID}
	}
	return f.Clone(), nil
}

// UpdateStepInput is the mutation payload for one step. Status and
// NeedsCorrection are optional; absent fields leave the current value.
// NeedsCorrection can only clear a flag; setting one goes through
// RequestCorrections.
type UpdateStepInput struct {
	Data            json.RawMessage    `json:"data,omitempty"`
	Status          *domain.StepStatus `json:"status,omitempty"`
	NeedsCorrection *bool              `json:"needsCorrection,omitempty"`
}

// UpdateStep applies the role/status gating algorithm and persists the
// whole form as a single durable write.
func (a *Actor) UpdateStep(ctx context.Context, stepID domain.StepID, in UpdateStepInput, user domain.User) (*domain.Form, error) {
	if !domain.KnownStep(stepID) {
		return nil, &workflow.NotFoundError{Resource: "step", ID: string(stepID)}
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, &domain.ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown step status %q", *in.Status)}}
	}

	var statusChanged bool
	updated, err := a.state.Update(ctx, func(f *domain.Form) (*domain.Form, error) {
		if f == nil {
			return nil, &workflow.NotFoundError{Resource: "form", ID: a.clientID}
		}
		step := f.Step(stepID)
		if step == nil {
			return nil, &workflow.NotFoundError{Resource: "step", ID: string(stepID)}
		}

		ts := a.timestamp()
		switch {
		case user.Role == domain.RoleCreator:
			if !workflow.HasPermission(user, workflow.ActionEdit, f.Status, f.ClientID) {
				return nil, &workflow.AuthorizationError{Reason: fmt.Sprintf("creator cannot edit while form is %s", f.Status)}
			}
			if workflow.IsCorrectionsStatus(f.Status) && !step.NeedsCorrection {
				return nil, &workflow.AuthorizationError{Reason: fmt.Sprintf("step %s is not flagged for correction", stepID)}
			}
			merged, err := domain.MergeStepData(stepID, step.Data, in.Data)
			if err != nil {
				return nil, err
			}
			step.Data = merged
			if in.Status != nil {
				step.Status = *in.Status
			}
			if workflow.IsCorrectionsStatus(f.Status) {
				step.NeedsCorrection = false
			}

		case isActiveReviewer(user.Role, f.Status):
			if user.ClientID != f.ClientID && user.Role != domain.RoleAuthorityReviewer {
				return nil, &workflow.AuthorizationError{Reason: "form belongs to another client"}
			}
			// Reviewers never alter step content, and they flag steps only
			// through request-corrections so the flags always travel with a
			// corrections-needed status.
			if in.Status != nil {
				step.Status = *in.Status
			}
			if in.NeedsCorrection != nil {
				if *in.NeedsCorrection {
					return nil, &domain.ValidationError{Fields: map[string]string{
						"needsCorrection": "steps are flagged through request-corrections",
					}}
				}
				step.NeedsCorrection = false
			}

		default:
			return nil, &workflow.AuthorizationError{Reason: fmt.Sprintf("role %s cannot update steps while form is %s", user.Role, f.Status)}
		}

		step.LastUpdatedBy = user.Sub
		step.LastUpdatedAt = ts
		f.LastUpdatedBy = user.Sub
		f.LastUpdatedAt = ts

		// Once the last flagged step is corrected the form re-enters the
		// review queue without a separate transition call.
		if workflow.IsCorrectionsStatus(f.Status) && len(f.StepsNeedingCorrection()) == 0 {
			target, _ := workflow.CorrectionRevertTarget(f.Status)
			f.Status = target
			statusChanged = true
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}

	a.audit(ctx, events.StepUpdated, user.Sub, events.Detail{"step": stepID, "status": updated.Step(stepID).Status})
	if statusChanged {
		a.audit(ctx, events.StatusChanged, user.Sub, events.Detail{"status": updated.Status})
		a.notifyIndex(ctx, updated)
	}
	return updated.Clone(), nil
}

func isActiveReviewer(role domain.Role, status domain.FormStatus) bool {
	reviewer, ok := workflow.ReviewerFor(status)
	return ok && reviewer == role
}

// AddComment appends an immutable comment to a step.
func (a *Actor) AddComment(ctx context.Context, stepID domain.StepID, text string, user domain.User) (*domain.Form, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Fields: map[string]string{"text": "required"}}
	}
	updated, err := a.state.Update(ctx, func(f *domain.Form) (*domain.Form, error) {
		if f == nil {
			return nil, &workflow.NotFoundError{Resource: "form", ID: a.clientID}
		}
		step := f.Step(stepID)
		if step == nil {
			return nil, &workflow.NotFoundError{Resource: "step", ID: string(stepID)}
		}
		if user.ClientID != f.ClientID && user.Role != domain.RoleAuthorityReviewer {
			return nil, &workflow.AuthorizationError{Reason: "form belongs to another client"}
		}
		ts := a.timestamp()
		step.Comments = append(step.Comments, domain.Comment{
			ID:        uuid.NewString(),
			StepID:    stepID,
			Text:      text,
			CreatedBy: user.Sub,
			CreatedAt: ts,
			Role:      user.Role,
		})
		f.LastUpdatedBy = user.Sub
		f.LastUpdatedAt = ts
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	a.audit(ctx, events.CommentAdded, user.Sub, events.Detail{"step": stepID})
	return updated.Clone(), nil
}

// Transition moves the form to target after checking the permission for
// action and the transition table against the current durable status.
func (a *Actor) Transition(ctx context.Context, target domain.FormStatus, action workflow.Action, user domain.User) (*domain.Form, error) {
	if !target.Valid() {
		return nil, &domain.ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown form status %q", target)}}
	}
	updated, err := a.state.Update(ctx, func(f *domain.Form) (*domain.Form, error) {
		if f == nil {
			return nil, &workflow.NotFoundError{Resource: "form", ID: a.clientID}
		}
		if !workflow.HasPermission(user, action, f.Status, f.ClientID) {
			return nil, &workflow.AuthorizationError{Reason: fmt.Sprintf("role %s may not %s while form is %s", user.Role, action, f.Status)}
		}
		if !workflow.CanTransition(f.Status, target) {
			return nil, &workflow.InvalidTransitionError{From: f.Status, To: target}
		}
		if workflow.IsCorrectionsStatus(f.Status) {
			if flagged := f.StepsNeedingCorrection(); len(flagged) > 0 {
				return nil, &domain.ValidationError{Fields: map[string]string{
					"steps": "still flagged for correction: " + joinStepIDs(flagged),
				}}
			}
		}
		ts := a.timestamp()
		f.Status = target
		f.LastUpdatedBy = user.Sub
		f.LastUpdatedAt = ts
		if target == domain.StatusApproved {
			f.ApprovedBy = user.Sub
			f.ApprovedAt = ts
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	a.audit(ctx, events.StatusChanged, user.Sub, events.Detail{"status": updated.Status})
	a.notifyIndex(ctx, updated)
	return updated.Clone(), nil
}

// CorrectionComment is one reviewer remark attached during a bulk
// request-corrections call.
type CorrectionComment struct {
	StepID domain.StepID `json:"stepId"`
	Text   string        `json:"text"`
}

// RequestCorrectionsInput names the steps to flag and the remarks to attach.
type RequestCorrectionsInput struct {
	StepsToCorrect []domain.StepID     `json:"stepsToCorrect"`
	Comments       []CorrectionComment `json:"comments,omitempty"`
}

// RequestCorrections appends each comment as its own durable write, then
// flags the named steps and transitions to target in one final write. A
// crash mid-loop leaves a valid form with some comments committed and the
// status unchanged.
func (a *Actor) RequestCorrections(ctx context.Context, target domain.FormStatus, in RequestCorrectionsInput, user domain.User) (*domain.Form, error) {
	if len(in.StepsToCorrect) == 0 {
		return nil, &domain.ValidationError{Fields: map[string]string{"stepsToCorrect": "at least one step required"}}
	}
	for _, id := range in.StepsToCorrect {
		if !domain.KnownStep(id) {
			return nil, &workflow.NotFoundError{Resource: "step", ID: string(id)}
		}
	}
	// Gate before the comment loop so a rejected call commits nothing.
	current, err := a.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !workflow.HasPermission(user, workflow.ActionRequestCorrections, current.Status, current.ClientID) {
		return nil, &workflow.AuthorizationError{Reason: fmt.Sprintf("role %s may not request corrections while form is %s", user.Role, current.Status)}
	}
	if !workflow.CanTransition(current.Status, target) {
		return nil, &workflow.InvalidTransitionError{From: current.Status, To: target}
	}

	for _, c := range in.Comments {
		if !domain.KnownStep(c.StepID) {
			return nil, &workflow.NotFoundError{Resource: "step", ID: string(c.StepID)}
		}
		if _, err := a.AddComment(ctx, c.StepID, c.Text, user); err != nil {
			return nil, err
		}
	}

	updated, err := a.state.Update(ctx, func(f *domain.Form) (*domain.Form, error) {
		if f == nil {
			return nil, &workflow.NotFoundError{Resource: "form", ID: a.clientID}
		}
		if !workflow.HasPermission(user, workflow.ActionRequestCorrections, f.Status, f.ClientID) {
			return nil, &workflow.AuthorizationError{Reason: fmt.Sprintf("role %s may not request corrections while form is %s", user.Role, f.Status)}
		}
		if !workflow.CanTransition(f.Status, target) {
			return nil, &workflow.InvalidTransitionError{From: f.Status, To: target}
		}
		ts := a.timestamp()
		for _, id := range in.StepsToCorrect {
			step := f.Step(id)
			step.NeedsCorrection = true
			step.Status = domain.StepRejected
			step.LastUpdatedBy = user.Sub
			step.LastUpdatedAt = ts
		}
		f.Status = target
		f.LastUpdatedBy = user.Sub
		f.LastUpdatedAt = ts
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	a.audit(ctx, events.StatusChanged, user.Sub, events.Detail{"status": updated.Status, "flagged": in.StepsToCorrect})
	a.notifyIndex(ctx, updated)
	return updated.Clone(), nil
}

// notifyIndex runs strictly after the local commit. Failures are logged
// and never rolled back into the primary mutation.
func (a *Actor) notifyIndex(ctx context.Context, f *domain.Form) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.UpdateIndex(ctx, f.Summarize()); err != nil {
		a.logger.Printf("index notify failed for client %s: %v", a.clientID, err)
	}
}

func (a *Actor) audit(ctx context.Context, kind, sub string, detail events.Detail) {
	if a.events.DB == nil {
		return
	}
	if err := a.events.Append(ctx, string(ActorID(a.clientID)), kind, sub, detail); err != nil {
		a.logger.Printf("audit append failed for client %s: %v", a.clientID, err)
	}
}

func joinStepIDs(ids []domain.StepID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

// Route handlers translate the dispatcher envelope into typed calls.

func (a *Actor) handleInitialize(ctx context.Context, req actor.Request) (any, error) {
	return a.Initialize(ctx, req.User)
}

func (a *Actor) handleGet(ctx context.Context, req actor.Request) (any, error) {
	return a.Get(ctx)
}

func (a *Actor) handleUpdateStep(ctx context.Context, req actor.Request) (any, error) {
	var in UpdateStepInput
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &in); err != nil {
			return nil, &domain.ValidationError{Fields: map[string]string{"body": err.Error()}}
		}
	}
	return a.UpdateStep(ctx, domain.StepID(req.Params["stepID"]), in, req.User)
}

func (a *Actor) handleAddComment(ctx context.Context, req actor.Request) (any, error) {
	var in struct {
		Text string `json:"text"`
	}
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &in); err != nil {
			return nil, &domain.ValidationError{Fields: map[string]string{"body": err.Error()}}
		}
	}
	return a.AddComment(ctx, domain.StepID(req.Params["stepID"]), in.Text, req.User)
}

func (a *Actor) handleSubmit(ctx context.Context, req actor.Request) (any, error) {
	return a.Transition(ctx, domain.StatusPendingInternalReview, workflow.ActionSubmitToInternalReview, req.User)
}

func (a *Actor) handleInternalApprove(ctx context.Context, req actor.Request) (any, error) {
	return a.Transition(ctx, domain.StatusPendingAuthorityReview, workflow.ActionSubmitToAuthorityReview, req.User)
}

func (a *Actor) handleInternalCorrections(ctx context.Context, req actor.Request) (any, error) {
	var in RequestCorrectionsInput
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &in); err != nil {
			return nil, &domain.ValidationError{Fields: map[string]string{"body": err.Error()}}
		}
	}
	return a.RequestCorrections(ctx, domain.StatusCorrectionsInternal, in, req.User)
}

func (a *Actor) handleAuthorityApprove(ctx context.Context, req actor.Request) (any, error) {
	return a.Transition(ctx, domain.StatusApproved, workflow.ActionApprove, req.User)
}

func (a *Actor) handleAuthorityCorrections(ctx context.Context, req actor.Request) (any, error) {
	var in RequestCorrectionsInput
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &in); err != nil {
			return nil, &domain.ValidationError{Fields: map[string]string{"body": err.Error()}}
		}
	}
	return a.RequestCorrections(ctx, domain.StatusCorrectionsAuthority, in, req.User)
}

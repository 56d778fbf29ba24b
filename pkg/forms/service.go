// Package forms implements the lease-based form editing protocol: an
// advisory per-task lock with a fixed lease, field-level authorization,
// draft merging and final submission.
package forms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nivio/flowd/pkg/engine"
	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// LeaseDuration is the fixed advisory lock lease. A lease older than this
// is expired and may be silently reclaimed by another assignee.
const LeaseDuration = 15 * time.Minute

var (
	// ErrLockConflict is returned when the form is locked by another user
	// and the lease has not expired.
	ErrLockConflict = errors.New("form is locked by another user")

	// ErrForbidden is returned when the caller may not edit or unlock the
	// form.
	ErrForbidden = errors.New("operation not permitted")

	// ErrValidation is returned when submitted form data fails the
	// attached JSON schema.
	ErrValidation = errors.New("form data failed validation")
)

// EditDecision is the outcome of a CanEdit check. Reason is set when
// editing is denied.
type EditDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Service owns the form locking and draft protocol. It mutates task form
// state only; advancing the workflow graph is left to the task lifecycle.
type Service struct {
	persistence persistence.Persistence
	notifier    engine.Notifier
	logger      *slog.Logger
}

func NewService(persistence persistence.Persistence, notifier engine.Notifier, logger *slog.Logger) *Service {
	return &Service{
		persistence: persistence,
		notifier:    notifier,
		logger:      logger.With("module", "forms"),
	}
}

// Lock grants the caller the editing lease. An unexpired lease held by
// someone else yields ErrLockConflict; an expired one is silently
// reclaimed.
func (s *Service) Lock(ctx context.Context, taskID, userID string) (*models.Task, error) {
	task, err := s.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.IsAssignee(userID) {
		return nil, fmt.Errorf("%w: %s is not assigned to task %s", ErrForbidden, userID, taskID)
	}

	now := time.Now().UTC()

	if locked, holder := s.liveLease(task, now); locked && holder != userID {
		return nil, fmt.Errorf("%w: held by %s", ErrLockConflict, holder)
	}

	task.LockedBy = userID
	task.LockedAt = &now
	task.UpdatedAt = now

	if err := s.persistence.Tasks().Save(ctx, task); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Form locked", "task_id", taskID, "user_id", userID)

	return task, nil
}

// Unlock releases the lease. Only the lease owner may release it unless
// force is set.
func (s *Service) Unlock(ctx context.Context, taskID, userID string, force bool) error {
	task, err := s.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	if task.LockedBy == "" {
		return nil
	}

	if task.LockedBy != userID && !force {
		return fmt.Errorf("%w: lease held by %s", ErrForbidden, task.LockedBy)
	}

	s.releaseLease(task)
	task.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Tasks().Save(ctx, task); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Form unlocked", "task_id", taskID, "user_id", userID, "force", force)

	return nil
}

// CanEdit reports whether the user may edit the task's form right now.
func (s *Service) CanEdit(ctx context.Context, taskID, userID string) (EditDecision, error) {
	task, err := s.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return EditDecision{}, err
	}

	return s.canEdit(task, userID), nil
}

func (s *Service) canEdit(task *models.Task, userID string) EditDecision {
	if task.Status.IsTerminal() {
		return EditDecision{Reason: fmt.Sprintf("task is %s", task.Status)}
	}

	if !task.IsAssignee(userID) {
		return EditDecision{Reason: "user is not assigned to this task"}
	}

	if locked, holder := s.liveLease(task, time.Now().UTC()); locked && holder != userID {
		return EditDecision{Reason: fmt.Sprintf("form is locked by %s", holder)}
	}

	return EditDecision{Allowed: true}
}

// EditableFields returns the schema field names the user may edit. A task
// without a schema has no field-level restrictions.
func (s *Service) EditableFields(ctx context.Context, taskID, userID string) ([]string, error) {
	task, err := s.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.FormSchema == nil {
		return nil, nil
	}

	return task.FormSchema.EditableFields(userID), nil
}

// SaveDraft merges the caller's edits over the persisted form data.
// Fields the caller is not authorized to edit are silently dropped. The
// lease is released on every successful save; the client must re-lock to
// continue editing. Progress reaching 100 moves a pending task to
// in_progress.
func (s *Service) SaveDraft(
	ctx context.Context,
	taskID, userID string,
	formData map[string]any,
	progress int,
) (*models.Task, error) {
	task, err := s.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if decision := s.canEdit(task, userID); !decision.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, decision.Reason)
	}

	if task.FormData == nil {
		task.FormData = make(map[string]any)
	}

	for name, value := range formData {
		if task.FormSchema != nil && !task.FormSchema.FieldEditable(name, userID) {
			continue
		}

		task.FormData[name] = value
	}

	if progress < 0 {
		progress = 0
	}

	if progress > 100 {
		progress = 100
	}

	task.FormProgress = progress

	if progress == 100 && task.Status == models.TaskStatusPending {
		task.Status = models.TaskStatusInProgress
	}

	s.releaseLease(task)
	task.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Tasks().Save(ctx, task); err != nil {
		return nil, err
	}

	s.notifyPeers(ctx, task, userID, "form_draft_saved", "Draft saved",
		fmt.Sprintf("%s saved a draft of %q (%d%%)", userID, task.Title, progress))

	s.logger.InfoContext(ctx, "Draft saved",
		"task_id", taskID, "user_id", userID, "progress", progress)

	return task, nil
}

// Submit finalizes the form: the submitted data replaces the draft,
// progress is forced to 100, the task is marked completed and the lease
// cleared. Submission does not advance the workflow graph; the caller
// drives the completion path separately.
func (s *Service) Submit(
	ctx context.Context,
	taskID, userID string,
	formData map[string]any,
) (*models.Task, error) {
	task, err := s.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if decision := s.canEdit(task, userID); !decision.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, decision.Reason)
	}

	if err := s.validate(task, formData); err != nil {
		return nil, err
	}

	task.FormData = formData
	task.FormProgress = 100
	task.Status = models.TaskStatusCompleted
	task.SubmittedBy = userID
	s.releaseLease(task)
	task.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Tasks().Save(ctx, task); err != nil {
		return nil, err
	}

	s.notifyPeers(ctx, task, userID, "form_submitted", "Form submitted",
		fmt.Sprintf("%s submitted %q", userID, task.Title))

	s.logger.InfoContext(ctx, "Form submitted", "task_id", taskID, "user_id", userID)

	return task, nil
}

// CleanExpiredLocks releases every lease older than the lease duration.
// Idempotent; intended to run on a periodic schedule.
func (s *Service) CleanExpiredLocks(ctx context.Context) (int, error) {
	tasks, err := s.persistence.Tasks().List(ctx, persistence.TaskFilter{})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	released := 0

	for _, task := range tasks {
		if task.LockedBy == "" || task.LockedAt == nil {
			continue
		}

		if now.Sub(*task.LockedAt) <= LeaseDuration {
			continue
		}

		holder := task.LockedBy
		s.releaseLease(task)
		task.UpdatedAt = now

		if err := s.persistence.Tasks().Save(ctx, task); err != nil {
			s.logger.ErrorContext(ctx, "Failed to release expired lock",
				"task_id", task.ID, "error", err)

			continue
		}

		released++

		s.logger.InfoContext(ctx, "Released expired lock", "task_id", task.ID, "holder", holder)
	}

	return released, nil
}

// liveLease reports whether the task carries an unexpired lease and who
// holds it.
func (s *Service) liveLease(task *models.Task, now time.Time) (bool, string) {
	if task.LockedBy == "" || task.LockedAt == nil {
		return false, ""
	}

	if now.Sub(*task.LockedAt) > LeaseDuration {
		return false, ""
	}

	return true, task.LockedBy
}

func (s *Service) releaseLease(task *models.Task) {
	task.LockedBy = ""
	task.LockedAt = nil
}

// validate checks the submitted data against the task's JSON schema, when
// one is attached.
func (s *Service) validate(task *models.Task, formData map[string]any) error {
	if task.FormSchema == nil || len(task.FormSchema.JSONSchema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(task.FormSchema.JSONSchema),
		gojsonschema.NewGoLoader(formData),
	)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %s", ErrValidation, result.Errors()[0])
	}

	return nil
}

// notifyPeers informs the other assignees and the workflow's creator of a
// form change. Best effort.
func (s *Service) notifyPeers(ctx context.Context, task *models.Task, actor, category, title, message string) {
	recipients := make(map[string]struct{})

	if task.AssignedTo != "" && task.AssignedTo != actor {
		recipients[task.AssignedTo] = struct{}{}
	}

	for _, assignee := range task.Assignees {
		if assignee != actor {
			recipients[assignee] = struct{}{}
		}
	}

	if instance, err := s.persistence.Instances().GetByID(ctx, task.InstanceID); err == nil {
		if instance.StartedBy != "" && instance.StartedBy != actor {
			recipients[instance.StartedBy] = struct{}{}
		}
	}

	data := map[string]any{
		"instance_id": task.InstanceID,
		"task_id":     task.ID,
	}

	for recipient := range recipients {
		if _, err := s.notifier.Create(ctx, recipient, category, title, message, data); err != nil {
			s.logger.ErrorContext(ctx, "Failed to send form notification",
				"task_id", task.ID, "recipient", recipient, "error", err)
		}
	}
}

package checkpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidState is reported when a state or checkpoint fails structural validation.
var ErrInvalidState = errors.New("invalid workflow state")

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidState, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidState, e.Err}
}

// Validator checks WorkflowState and checkpoint structure. Cross-field rules
// such as the selection invariant are enforced by the pipeline guards, not here.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator for checkpoint contents.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// State validates a workflow state.
func (v *Validator) State(state *models.WorkflowState) error {
	if state == nil {
		return &ValidationError{Fields: []string{"state"}, Err: errors.New("state is nil")}
	}

	return v.wrap(v.validate.Struct(state))
}

// Checkpoint validates a checkpoint envelope and its state.
func (v *Validator) Checkpoint(cp *models.Checkpoint) error {
	if cp.ThreadID == "" || cp.CheckpointID == "" {
		return &ValidationError{Fields: []string{"thread_id", "checkpoint_id"}, Err: errors.New("checkpoint is missing identity")}
	}

	if err := v.wrap(v.validate.Struct(cp.Metadata)); err != nil {
		return err
	}

	return v.State(cp.State)
}

func (v *Validator) wrap(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Err: err}
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Namespace()+"("+fe.Tag()+")")
	}

	return &ValidationError{Fields: fields, Err: err}
}

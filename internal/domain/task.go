package domain

import (
	"fmt"
	"strings"
)

// TaskKind says whether a task targets a service or a catalog inside one.
type TaskKind int

const (
	KindUnknown TaskKind = iota
	KindService
	KindCatalog
)

func (k TaskKind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindCatalog:
		return "catalog"
	default:
		return "unknown"
	}
}

// SourceType is the kind of software source a task manipulates.
type SourceType int

const (
	SourceUnknown SourceType = iota
	// SourceManaged is a service with nested repositories.
	SourceManaged
	// SourceLegacy is a deprecated standalone repository.
	SourceLegacy
)

// ParseSourceType maps a wire tag to a SourceType.
func ParseSourceType(s string) SourceType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "managed-source":
		return SourceManaged
	case "legacy-source":
		return SourceLegacy
	default:
		return SourceUnknown
	}
}

func (t SourceType) String() string {
	switch t {
	case SourceManaged:
		return "managed-source"
	case SourceLegacy:
		return "legacy-source"
	default:
		return "unknown"
	}
}

// TaskAction is what the server wants done with a target.
type TaskAction int

const (
	ActionUnknown TaskAction = iota
	ActionAdd
	ActionDelete
	ActionLeaveEnabled
	ActionLeaveDisabled
)

// ParseTaskAction maps a wire tag to a TaskAction. The short forms are
// the historical server abbreviations.
func ParseTaskAction(s string) TaskAction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add", "a":
		return ActionAdd
	case "delete", "d":
		return ActionDelete
	case "leave-enabled", "le":
		return ActionLeaveEnabled
	case "leave-disabled", "ld":
		return ActionLeaveDisabled
	default:
		return ActionUnknown
	}
}

func (a TaskAction) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionDelete:
		return "delete"
	case ActionLeaveEnabled:
		return "leave-enabled"
	case ActionLeaveDisabled:
		return "leave-disabled"
	default:
		return "unknown"
	}
}

// Task is one instruction of the server's task list.
type Task struct {
	Target   string
	Kind     TaskKind
	Type     SourceType
	Action   TaskAction
	URL      string
	Catalogs []Task

	// RawType and RawAction keep the wire text for diagnostics.
	RawType   string
	RawAction string
	// Issues are shape problems found while decoding.
	Issues []string
}

// Validate checks the task shape. Catalog tasks only need a target and
// a known action; their type is inherited from the owning service.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Target) == "" {
		return fmt.Errorf("%w: missing target name", ErrMalformedTask)
	}
	if len(t.Issues) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrMalformedTask, t.Target, strings.Join(t.Issues, "; "))
	}
	if t.Action == ActionUnknown {
		return fmt.Errorf("%w: %s: unrecognized action %q", ErrMalformedTask, t.Target, t.RawAction)
	}

	switch t.Kind {
	case KindCatalog:
		return nil
	case KindService:
	default:
		return fmt.Errorf("%w: %s: unrecognized kind", ErrMalformedTask, t.Target)
	}

	switch t.Type {
	case SourceManaged:
		if t.Action == ActionAdd && t.URL == "" {
			return fmt.Errorf("%w: %s: add without url", ErrMalformedTask, t.Target)
		}
	case SourceLegacy:
		if t.Action == ActionAdd && t.URL == "" {
			return fmt.Errorf("%w: %s: add without url", ErrMalformedTask, t.Target)
		}
		if len(t.Catalogs) > 0 {
			return fmt.Errorf("%w: %s: legacy source with catalogs", ErrMalformedTask, t.Target)
		}
	default:
		return fmt.Errorf("%w: %s: unrecognized type %q", ErrMalformedTask, t.Target, t.RawType)
	}
	return nil
}

// ChangeKind classifies one applied change.
type ChangeKind int

const (
	ChangeAddedService ChangeKind = iota
	ChangeDeletedService
	ChangeAddedRepository
	ChangeDeletedRepository
	ChangeEnabledRepository
	ChangeDisabledRepository
)

// Change is a single applied modification of the source set.
type Change struct {
	Kind   ChangeKind
	Target string
	// Service owns the repository for enable/disable changes.
	Service string
}

func (c Change) String() string {
	switch c.Kind {
	case ChangeAddedService:
		return "Added service: " + c.Target
	case ChangeDeletedService:
		return "Deleted service: " + c.Target
	case ChangeAddedRepository:
		return "Added repository: " + c.Target
	case ChangeDeletedRepository:
		return "Deleted repository: " + c.Target
	case ChangeEnabledRepository:
		return "Enabled repository: " + c.Target
	case ChangeDisabledRepository:
		return "Disabled repository: " + c.Target
	default:
		return "Changed: " + c.Target
	}
}

// ReconciliationResult captures what applying a task list did.
type ReconciliationResult struct {
	Changes []Change
	// Satisfied lists targets whose requested state already held.
	Satisfied []string
	// Skipped lists targets of malformed tasks.
	Skipped []string
	Errors  []error
	Success bool
}

// NewReconciliationResult returns an empty, successful result.
func NewReconciliationResult() *ReconciliationResult {
	return &ReconciliationResult{
		Changes:   make([]Change, 0),
		Satisfied: make([]string, 0),
		Skipped:   make([]string, 0),
		Errors:    make([]error, 0),
		Success:   true,
	}
}

// Fail records err and clears the success flag.
func (r *ReconciliationResult) Fail(err error) {
	r.Errors = append(r.Errors, err)
	r.Success = false
}

// Changed reports whether any change was applied.
func (r *ReconciliationResult) Changed() bool {
	return len(r.Changes) > 0
}

// Summary returns the human-readable change lines.
func (r *ReconciliationResult) Summary() []string {
	lines := make([]string, 0, len(r.Changes)+len(r.Skipped))
	for _, c := range r.Changes {
		lines = append(lines, c.String())
	}
	for _, s := range r.Skipped {
		lines = append(lines, "Skipped: "+s)
	}
	return lines
}

package tracing

import (
	"github.com/rs/xid"
	"github.com/sarchlab/pmap/hooking"
)

// A list of hook poses for the hooks to apply to
var (
	HookPosTaskStart = &hooking.HookPos{Name: "HookPosTaskStart"}
	HookPosTaskStep  = &hooking.HookPos{Name: "HookPosTaskStep"}
	HookPosTaskEnd   = &hooking.HookPos{Name: "HookPosTaskEnd"}
)

// NewTaskID returns a globally unique task ID.
func NewTaskID() string {
	return xid.New().String()
}

// StartTask notifies the hooks that hook to the domain about the start of a
// task. It returns the task ID, or an empty string if nobody listens.
func StartTask(
	parentID string,
	domain hooking.NamedHookable,
	kind string,
	what string,
	detail interface{},
) string {
	if domain.NumHooks() == 0 {
		return ""
	}

	if kind == "" || what == "" {
		panic("kind and what must not be empty")
	}

	if domain.Name() == "" {
		panic("domain must have a name")
	}

	task := Task{
		ID:       NewTaskID(),
		ParentID: parentID,
		Kind:     kind,
		What:     what,
		Where:    domain.Name(),
		Detail:   detail,
	}

	domain.InvokeHook(hooking.HookCtx{
		Domain: domain,
		Item:   task,
		Pos:    HookPosTaskStart,
	})

	return task.ID
}

// AddTaskStep marks that a milestone has been reached when processing a
// task.
func AddTaskStep(id string, domain hooking.NamedHookable, what string) {
	if id == "" || domain.NumHooks() == 0 {
		return
	}

	task := Task{
		ID: id,
		Steps: []TaskStep{{
			What: what,
		}},
	}

	domain.InvokeHook(hooking.HookCtx{
		Domain: domain,
		Item:   task,
		Pos:    HookPosTaskStep,
	})
}

// EndTask notifies the hooks about the end of a task. A non-nil err marks
// the task as failed.
func EndTask(id string, domain hooking.NamedHookable, err error) {
	if id == "" || domain.NumHooks() == 0 {
		return
	}

	task := Task{
		ID:  id,
		Err: err,
	}

	domain.InvokeHook(hooking.HookCtx{
		Domain: domain,
		Item:   task,
		Pos:    HookPosTaskEnd,
	})
}

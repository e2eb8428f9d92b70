package repo

// HookEvent is emitted by the core before or after a mutating operation.
// Name identifies the event (the core dispatches "pre-commit", "post-commit"
// and "post-checkout") and Payload carries whatever that event needs —
// the core only constructs and dispatches these; running a hook as a
// subprocess is left to the CLI/TUI front-end.
type HookEvent struct {
	Name    string
	Payload map[string]string
}

// HookRunner is implemented by a front-end that wants to react to
// HookEvents. Run may return an error to abort a "pre-" event (a "post-"
// event's error is logged but never unwinds the operation that already
// completed).
type HookRunner interface {
	Run(event HookEvent) error
}

// noopHookRunner is used when a Repository has no HookRunner attached.
type noopHookRunner struct{}

func (noopHookRunner) Run(HookEvent) error { return nil }

// SetHookRunner attaches runner as this repository's hook dispatcher,
// replacing any previous one. Passing nil reverts to a no-op runner.
func (r *Repository) SetHookRunner(runner HookRunner) {
	if runner == nil {
		runner = noopHookRunner{}
	}
	r.hooks = runner
}

// dispatch fires a HookEvent, returning the runner's error unchanged so the
// caller decides whether it's fatal (pre-hooks) or merely logged (post-hooks).
func (r *Repository) dispatch(name string, payload map[string]string) error {
	if r.hooks == nil {
		return nil
	}
	return r.hooks.Run(HookEvent{Name: name, Payload: payload})
}

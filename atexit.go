package ufs

import "sync"

// Shutdown hooks. A file-backed filesystem registers its close function here so
// the block map and metadata root get flushed on clean process shutdown
// even when the embedding program forgets to close the mount explicitly.

type exitHook struct {
	name string
	fn   func() error
}

var exitHooks struct {
	sync.Mutex
	hooks   []exitHook
	running bool
}

// RegisterAtExit queues fn to run during RunAtExit under the given name.
// Hooks run in registration order.
func RegisterAtExit(name string, fn func() error) {
	exitHooks.Lock()
	defer exitHooks.Unlock()
	if exitHooks.running {
		panic("ufs: RegisterAtExit called during RunAtExit")
	}
	exitHooks.hooks = append(exitHooks.hooks, exitHook{name: name, fn: fn})
}

// RunAtExit runs every registered hook once and clears the list. All hooks
// run even when earlier ones fail; the first error wins, annotated with
// its hook's name.
func RunAtExit() error {
	exitHooks.Lock()
	hooks := exitHooks.hooks
	exitHooks.hooks = nil
	exitHooks.running = true
	exitHooks.Unlock()

	var first error
	for _, h := range hooks {
		if err := h.fn(); err != nil && first == nil {
			first = NewError(CodeIOError, "at exit: "+h.name, err)
		}
	}
	exitHooks.Lock()
	exitHooks.running = false
	exitHooks.Unlock()
	return first
}

package deploy

import "sync"

var targetLocks sync.Map // target description -> *sync.Mutex

// lockTarget serializes config swaps against one target within this process.
func lockTarget(target string) func() {
	v, _ := targetLocks.LoadOrStore(target, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

package store

import (
	"strings"
	"sync"
)

// notifier fans out change notifications to subscribers. Both store
// implementations are in-process, so subscriptions are too.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]subscription
}

type subscription struct {
	path string
	fn   func()
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]subscription)}
}

func (n *notifier) subscribe(path string, fn func()) func() {
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = subscription{path: path, fn: fn}
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// notify fires subscribers whose path covers any of the changed paths.
func (n *notifier) notify(changed []string) {
	n.mu.Lock()
	var fns []func()
	for _, sub := range n.subs {
		for _, path := range changed {
			if path == sub.path || strings.HasPrefix(path, sub.path+"/") {
				fns = append(fns, sub.fn)
				break
			}
		}
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

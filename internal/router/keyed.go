package router

import "sync"

// keyedMutex serialises work per key. Waiters on the same key are admitted
// in the order they called Lock; different keys never block each other.
type keyedMutex struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{queues: make(map[string][]chan struct{})}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	ch := make(chan struct{})

	k.mu.Lock()
	k.queues[key] = append(k.queues[key], ch)
	if len(k.queues[key]) == 1 {
		close(ch)
	}
	k.mu.Unlock()

	<-ch
	return func() { k.unlock(key) }
}

func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	q := k.queues[key][1:]
	if len(q) == 0 {
		delete(k.queues, key)
		return
	}
	k.queues[key] = q
	close(q[0])
}

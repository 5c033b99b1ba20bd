package sqs

import "sync"

// waiters hands out one broadcast channel per queue. Signalling closes the
// channel, waking every receiver holding it, and installs a fresh one.
type waiters struct {
	mu sync.Mutex
	ch map[string]chan struct{}
}

func newWaiters() *waiters {
	return &waiters{ch: make(map[string]chan struct{})}
}

// wait returns the channel the next signal on queue will close.
func (w *waiters) wait(queue string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.ch[queue]
	if !ok {
		c = make(chan struct{})
		w.ch[queue] = c
	}
	return c
}

func (w *waiters) signal(queue string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.ch[queue]; ok {
		close(c)
		delete(w.ch, queue)
	}
}

package huddle

import "sync"

// sessionLanes runs jobs one at a time per session key, in submission order. Different
// sessions run concurrently. A lane's goroutine exits when its queue drains.
type sessionLanes struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func newSessionLanes() *sessionLanes {
	return &sessionLanes{queues: make(map[string][]func())}
}

func (l *sessionLanes) submit(key string, job func()) {
	l.mu.Lock()
	q, busy := l.queues[key]
	l.queues[key] = append(q, job)
	if !busy {
		l.wg.Add(1)
	}
	l.mu.Unlock()

	if !busy {
		go l.drain(key)
	}
}

func (l *sessionLanes) drain(key string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		job := q[0]
		q[0] = nil
		l.queues[key] = q[1:]
		l.mu.Unlock()

		job()
	}
}

// wait blocks until every submitted job has finished.
func (l *sessionLanes) wait() { l.wg.Wait() }

package sync

import "sync"

// failureFeed hands permanent failures to watchers without dropping any.
// Each watcher keeps its own queue, so a slow reader delays only itself and
// never the worker that reported the failure.
type failureFeed struct {
	mu       sync.Mutex
	watchers map[*failureWatcher]struct{}
}

type failureWatcher struct {
	mu    sync.Mutex
	queue []Failure
	wake  chan struct{}
	out   chan Failure
	stop  chan struct{}
}

func (f *failureFeed) publish(fl Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for w := range f.watchers {
		w.push(fl)
	}
}

func (f *failureFeed) subscribe(buf int) (<-chan Failure, func()) {
	w := &failureWatcher{
		wake: make(chan struct{}, 1),
		out:  make(chan Failure, buf),
		stop: make(chan struct{}),
	}
	f.mu.Lock()
	if f.watchers == nil {
		f.watchers = make(map[*failureWatcher]struct{})
	}
	f.watchers[w] = struct{}{}
	f.mu.Unlock()

	go w.pump()

	var once sync.Once
	return w.out, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers, w)
			f.mu.Unlock()
			close(w.stop)
		})
	}
}

func (w *failureWatcher) push(fl Failure) {
	w.mu.Lock()
	w.queue = append(w.queue, fl)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// pump moves queued failures to out in order until the watcher stops. out
// is closed on exit.
func (w *failureWatcher) pump() {
	defer close(w.out)
	for {
		w.mu.Lock()
		n := len(w.queue)
		var next Failure
		if n > 0 {
			next = w.queue[0]
			w.queue = w.queue[1:]
		}
		w.mu.Unlock()

		if n == 0 {
			select {
			case <-w.wake:
				continue
			case <-w.stop:
				return
			}
		}
		select {
		case w.out <- next:
		case <-w.stop:
			return
		}
	}
}

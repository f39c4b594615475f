package cache

import "sync"

const (
	// maxMissedKeys bounds outage bookkeeping; past it recovery flushes the
	// whole namespace instead.
	maxMissedKeys       = 10000
	replayTimeoutFactor = 10
)

// outage records the writes that reached only the memory backend while the
// distributed one was unavailable.
type outage struct {
	mu        sync.Mutex
	keys      map[string]struct{}
	patterns  map[string]struct{}
	flush     bool
	replaying bool
}

func (o *outage) addKey(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.flush {
		return
	}
	if len(o.keys) >= maxMissedKeys {
		o.flushLocked()
		return
	}
	if o.keys == nil {
		o.keys = make(map[string]struct{})
	}
	o.keys[key] = struct{}{}
}

func (o *outage) addPattern(pattern string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.flush {
		return
	}
	if o.patterns == nil {
		o.patterns = make(map[string]struct{})
	}
	o.patterns[pattern] = struct{}{}
}

func (o *outage) flushAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushLocked()
}

func (o *outage) flushLocked() {
	o.flush = true
	o.keys, o.patterns = nil, nil
}

// pending reports whether missed writes are recorded or being replayed.
func (o *outage) pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.replaying || o.flush || len(o.keys) > 0 || len(o.patterns) > 0
}

// take hands the recorded writes to a replay and marks it in progress until
// done or restore.
func (o *outage) take() (keys, patterns []string, flush bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k := range o.keys {
		keys = append(keys, k)
	}
	for p := range o.patterns {
		patterns = append(patterns, p)
	}
	flush = o.flush
	o.keys, o.patterns, o.flush = nil, nil, false
	o.replaying = true
	return keys, patterns, flush
}

func (o *outage) done() {
	o.mu.Lock()
	o.replaying = false
	o.mu.Unlock()
}

// restore puts back the writes of a failed replay.
func (o *outage) restore(keys, patterns []string, flush bool) {
	if flush {
		o.flushAll()
	}
	for _, p := range patterns {
		o.addPattern(p)
	}
	for _, k := range keys {
		o.addKey(k)
	}
	o.done()
}

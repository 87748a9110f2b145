package station

import (
	"sync"
	"time"
)

// MaxLogEntries is how many entries a LogStream keeps by default.
const MaxLogEntries = 10000

// LogKind classifies an entry for consumers of the stream.
type LogKind string

const (
	LogInfo LogKind = ""
	// LogFrame is a frame sent to or received from the central system
	LogFrame LogKind = "frame"
	// LogState follows a change of the connection or of the station state
	LogState LogKind = "state"
)

// LogEntry is one human readable line of the operator log.
type LogEntry struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Kind      LogKind   `json:"kind,omitempty"`
	// Err is set when the entry reports a failure
	Err error `json:"-"`
}

// LogStream keeps the most recent entries in a ring and fans new entries
// out to live subscribers. Slow subscribers miss entries.
type LogStream struct {
	mu          sync.Mutex
	limit       int
	entries     []LogEntry
	head        int
	subscribers map[int]chan LogEntry
	nextID      int
}

func NewLogStream() *LogStream {
	return NewBoundedLogStream(MaxLogEntries)
}

// NewBoundedLogStream keeps at most limit entries, dropping the oldest first.
func NewBoundedLogStream(limit int) *LogStream {
	if limit <= 0 {
		limit = MaxLogEntries
	}

	return &LogStream{
		limit:       limit,
		subscribers: make(map[int]chan LogEntry),
	}
}

func (l *LogStream) Append(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) < l.limit {
		l.entries = append(l.entries, entry)
	} else {
		l.entries[l.head] = entry
		l.head = (l.head + 1) % l.limit
	}

	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Entries returns the kept entries, oldest first.
func (l *LogStream) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]LogEntry, 0, len(l.entries))
	entries = append(entries, l.entries[l.head:]...)
	entries = append(entries, l.entries[:l.head]...)
	return entries
}

// Subscribe returns a channel of new entries and a function to unsubscribe.
func (l *LogStream) Subscribe(buffer int) (<-chan LogEntry, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++

	ch := make(chan LogEntry, buffer)
	l.subscribers[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()

			delete(l.subscribers, id)
			close(ch)
		})
	}
}

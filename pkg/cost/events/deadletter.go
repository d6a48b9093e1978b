package events

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// DeadLetter is an event that could not be handled.
type DeadLetter struct {
	Event    Event     `json:"event"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// DeadLetterQueue stores dead letters for later inspection or replay.
type DeadLetterQueue interface {
	Put(ctx context.Context, dl DeadLetter) error
}

// MemoryDeadLetters keeps dead letters in memory.
type MemoryDeadLetters struct {
	mu      sync.Mutex
	letters []DeadLetter
}

// NewMemoryDeadLetters returns an empty queue.
func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{}
}

// Put implements DeadLetterQueue.
func (q *MemoryDeadLetters) Put(_ context.Context, dl DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.letters = append(q.letters, dl)
	return nil
}

// List returns a copy of the stored dead letters.
func (q *MemoryDeadLetters) List() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.letters...)
}

// FileDeadLetters appends dead letters as NDJSON to a file.
type FileDeadLetters struct {
	f   *os.File
	enc *Encoder
}

// OpenFileDeadLetters opens path for appending, creating it if needed.
func OpenFileDeadLetters(path string) (*FileDeadLetters, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead letter file: %w", err)
	}
	return &FileDeadLetters{f: f, enc: NewEncoder(f)}, nil
}

// Put implements DeadLetterQueue.
func (q *FileDeadLetters) Put(_ context.Context, dl DeadLetter) error {
	return q.enc.Encode(dl)
}

// Close closes the file.
func (q *FileDeadLetters) Close() error {
	return q.f.Close()
}

package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/scope"
)

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 1 << 20

type wireEvent struct {
	ID            string            `json:"id,omitempty"`
	Type          Type              `json:"type"`
	ResourceID    string            `json:"resource_id,omitempty"`
	Scope         string            `json:"scope,omitempty"`
	Time          time.Time         `json:"time"`
	CreatedAt     *time.Time        `json:"created_at,omitempty"`
	Configuration consumption.Usage `json:"configuration,omitempty"`
	Trace         map[string]string `json:"trace,omitempty"`
}

// MarshalJSON encodes the event in its wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type:          e.Type,
		ResourceID:    e.ResourceID,
		Time:          e.Time,
		Configuration: e.Configuration,
		Trace:         e.Trace,
	}
	if e.ID != uuid.Nil {
		w.ID = e.ID.String()
	}
	if !e.Scope.IsZero() {
		w.Scope = e.Scope.String()
	}
	if !e.CreatedAt.IsZero() {
		created := e.CreatedAt
		w.CreatedAt = &created
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form. A missing id is generated.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Event{
		Type:          w.Type,
		ResourceID:    w.ResourceID,
		Time:          w.Time,
		Configuration: w.Configuration,
		Trace:         w.Trace,
	}
	if w.ID == "" {
		out.ID = uuid.New()
	} else {
		id, err := uuid.Parse(w.ID)
		if err != nil {
			return fmt.Errorf("%w: id %q", ErrInvalidEvent, w.ID)
		}
		out.ID = id
	}
	if w.Scope != "" {
		ref, err := scope.ParseRef(w.Scope)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		out.Scope = ref
	}
	if w.CreatedAt != nil {
		out.CreatedAt = *w.CreatedAt
	}
	*e = out
	return nil
}

// Decoder reads newline-delimited events.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next valid event. It returns io.EOF at the end of the
// input. Blank lines are skipped.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return Event{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		if err := ev.Validate(); err != nil {
			return Event{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Line returns the number of lines read so far.
func (d *Decoder) Line() int {
	return d.line
}

// Encoder writes newline-delimited events. It is safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes v as one line.
func (e *Encoder) Encode(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(v)
}

package mailqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueID identifies one enqueue operation. Every accepted mail gets a
// fresh random ID; the ID travels with the mail through the view, the
// transport and the deletion registry.
//
// The zero value is not a valid ID.
type EnqueueID struct {
	id uuid.UUID
}

// NewEnqueueID returns a new random enqueue ID.
func NewEnqueueID() EnqueueID {
	return EnqueueID{id: uuid.New()}
}

// ParseEnqueueID parses the canonical textual form produced by String.
// Returns ErrMalformedID if the input is not a valid ID.
func ParseEnqueueID(s string) (EnqueueID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EnqueueID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	return EnqueueID{id: u}, nil
}

// String returns the canonical textual form. ParseEnqueueID(id.String())
// yields an ID equal to id.
func (e EnqueueID) String() string {
	return e.id.String()
}

// IsZero reports whether the ID is the invalid zero value.
func (e EnqueueID) IsZero() bool {
	return e.id == uuid.Nil
}

// Mail is the unit of work accepted by Enqueue.
type Mail struct {
	// Name is a caller-assigned label, not required to be unique.
	Name string
	// Sender is the envelope sender address.
	Sender string
	// Recipients are the envelope recipient addresses. At least one is
	// required.
	Recipients []string
	// Headers are the message headers.
	Headers map[string][]string
	// Body is the raw message body.
	Body []byte
}

// Validate reports whether the mail can be enqueued.
func (m *Mail) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil mail", ErrInvalidMail)
	}
	if m.Sender == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidMail)
	}
	if len(m.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalidMail)
	}
	for _, r := range m.Recipients {
		if r == "" {
			return fmt.Errorf("%w: empty recipient", ErrInvalidMail)
		}
	}
	return nil
}

// Size returns the body size in bytes.
func (m *Mail) Size() int64 {
	return int64(len(m.Body))
}

// Metadata describes one queued mail as seen by Browse and the management
// operations. It mirrors the view store entry; the body is not included.
type Metadata struct {
	ID           EnqueueID
	Queue        string
	Name         string
	Sender       string
	Recipients   []string
	Size         int64
	EnqueuedAt   time.Time
	NextDelivery time.Time

	// view bookkeeping needed to remove the entry
	slice      int64
	contentKey string
}

// mailPayload is the JSON envelope written to the content store.
type mailPayload struct {
	Name       string              `json:"name,omitempty"`
	Sender     string              `json:"sender"`
	Recipients []string            `json:"recipients"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       []byte              `json:"body,omitempty"`
}

// encodeMail serializes the mail for the content store.
func encodeMail(m *Mail) ([]byte, error) {
	data, err := json.Marshal(mailPayload{
		Name:       m.Name,
		Sender:     m.Sender,
		Recipients: m.Recipients,
		Headers:    m.Headers,
		Body:       m.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode mail: %w", err)
	}
	return data, nil
}

// decodeMail reverses encodeMail.
func decodeMail(data []byte) (*Mail, error) {
	var p mailPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode mail: %w", err)
	}
	return &Mail{
		Name:       p.Name,
		Sender:     p.Sender,
		Recipients: p.Recipients,
		Headers:    p.Headers,
		Body:       p.Body,
	}, nil
}

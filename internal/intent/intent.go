// Package intent builds and encodes intents: ordered lists of named steps
// that the runtime resolves against the live tree one head step at a time.
//
// The wire form is a URL path. Each step is a segment holding the
// percent-encoded step name, optionally followed by ';' and the
// percent-encoded payload:
//
//	/tabs;settings/profile/item;42
package intent

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/roach88/grove/internal/ir"
)

// ErrEmptyStepName is returned when decoding a segment with no name.
var ErrEmptyStepName = errors.New("empty step name")

// Intent is an ordered list of steps, consumed head first.
type Intent []ir.Step

// New builds an intent from steps.
func New(steps ...ir.Step) Intent {
	return Intent(steps)
}

// Step builds a step with a raw payload.
func Step(name string, payload []byte) ir.Step {
	if len(payload) == 0 {
		payload = nil
	}
	return ir.Step{Name: name, Payload: payload}
}

// Named builds a step with a string payload, or none when payload is empty.
func Named(name, payload string) ir.Step {
	return Step(name, []byte(payload))
}

// Head returns the first step.
func (i Intent) Head() (ir.Step, bool) {
	if len(i) == 0 {
		return ir.Step{}, false
	}
	return i[0], true
}

// Rest returns the intent without its head.
func (i Intent) Rest() Intent {
	if len(i) == 0 {
		return nil
	}
	return i[1:]
}

// Clone returns a deep copy.
func (i Intent) Clone() Intent {
	if i == nil {
		return nil
	}
	out := make(Intent, len(i))
	for n, s := range i {
		out[n] = ir.Step{Name: s.Name, Payload: bytes.Clone(s.Payload)}
	}
	return out
}

// Names lists step names in order.
func (i Intent) Names() []string {
	names := make([]string, len(i))
	for n, s := range i {
		names[n] = s.Name
	}
	return names
}

// Record converts the intent to its snapshot form, resuming at from.
func (i Intent) Record(from ir.NodeID) *ir.IntentRecord {
	if len(i) == 0 {
		return nil
	}
	return (&ir.IntentRecord{Steps: i, From: from}).Clone()
}

// FromRecord rebuilds an intent from a snapshot record.
func FromRecord(rec *ir.IntentRecord) Intent {
	if rec == nil {
		return nil
	}
	return Intent(rec.Clone().Steps)
}

// String returns the wire form.
func (i Intent) String() string { return Encode(i) }

// Encode renders the intent as a percent-encoded path. An empty intent
// encodes to the empty string.
func Encode(i Intent) string {
	var b strings.Builder
	for _, s := range i {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s.Name))
		if len(s.Payload) > 0 {
			b.WriteByte(';')
			b.WriteString(url.PathEscape(string(s.Payload)))
		}
	}
	return b.String()
}

// Decode parses the wire form produced by Encode. A leading slash is
// optional and empty segments are skipped.
func Decode(s string) (Intent, error) {
	var out Intent
	for n, seg := range strings.Split(s, "/") {
		if seg == "" {
			continue
		}
		rawName, rawPayload, hasPayload := strings.Cut(seg, ";")
		name, err := url.PathUnescape(rawName)
		if err != nil {
			return nil, fmt.Errorf("segment %d name: %w", n, err)
		}
		if name == "" {
			return nil, fmt.Errorf("segment %d: %w", n, ErrEmptyStepName)
		}
		var payload []byte
		if hasPayload {
			p, err := url.PathUnescape(rawPayload)
			if err != nil {
				return nil, fmt.Errorf("segment %d payload: %w", n, err)
			}
			payload = []byte(p)
		}
		out = append(out, Step(name, payload))
	}
	return out, nil
}

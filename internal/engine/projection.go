package engine

import (
	"context"
	"fmt"

	"github.com/roach88/grove/internal/ir"
)

// Projection binds one value field for an outside owner, such as a form
// control or a test driver. It stays valid only while the node it points
// at is attached and the field holds an acceptable value.
type Projection struct {
	rt    *Runtime
	field ir.FieldID
	check func(ir.IRValue) error
}

// ProjectionOption configures a Projection.
type ProjectionOption func(*Projection)

// Validated rejects values for which check returns an error, both on Set
// and in IsValid.
func Validated(check func(ir.IRValue) error) ProjectionOption {
	return func(p *Projection) { p.check = check }
}

// Project binds the named value field of a live node.
func (rt *Runtime) Project(node ir.NodeID, name string, opts ...ProjectionOption) (*Projection, error) {
	f, err := rt.Field(node, name)
	if err != nil {
		return nil, err
	}
	p := &Projection{rt: rt, field: f}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Field returns the bound field.
func (p *Projection) Field() ir.FieldID { return p.field }

// Get returns the current value, or IRNull once the node is gone.
func (p *Projection) Get() ir.IRValue {
	v, ok := p.rt.Read(p.field)
	if !ok {
		return ir.IRNull{}
	}
	return v
}

// IsValid reports whether the bound node is still attached and its
// current value passes validation.
func (p *Projection) IsValid() bool {
	v, ok := p.rt.Read(p.field)
	if !ok {
		return false
	}
	return p.check == nil || p.check(v) == nil
}

// Set writes v through the runtime as one write.
func (p *Projection) Set(ctx context.Context, v ir.IRValue) error {
	if p.check != nil {
		if err := p.check(v); err != nil {
			return fmt.Errorf("projection %s: %w", p.field, err)
		}
	}
	if _, ok := p.rt.Read(p.field); !ok {
		return &RuntimeError{Code: ErrCodeUnknownField, Message: "projected node detached", Node: p.field.Node}
	}
	return p.rt.Write(ctx, p.field, v)
}

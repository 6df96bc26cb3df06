package engine

import (
	"fmt"

	"github.com/roach88/grove/internal/intent"
	"github.com/roach88/grove/internal/ir"
)

// ClaimFunc answers whether a node can resolve an intent step right now.
type ClaimFunc func(step ir.Step) Claim

type claimKind int

const (
	claimInapplicable claimKind = iota
	claimPending
	claimResolved
)

// Claim is a node's answer to an intent step.
type Claim struct {
	kind   claimKind
	action Handler
}

// Inapplicable declines the step. The search continues past this node.
func Inapplicable() Claim { return Claim{kind: claimInapplicable} }

// Pending accepts the step but cannot act yet. The search stops and the
// intent stays pending until a later write makes progress possible.
func Pending() Claim { return Claim{kind: claimPending} }

// Resolve accepts the step. action runs on the claiming node, the step is
// consumed and the search continues with the next step from that node.
func Resolve(action Handler) Claim { return Claim{kind: claimResolved, action: action} }

// pendingIntent is the unresolved remainder of a signalled intent.
type pendingIntent struct {
	steps intent.Intent
	from  ir.NodeID
}

func (p *pendingIntent) clone() *pendingIntent {
	if p == nil {
		return nil
	}
	return &pendingIntent{steps: p.steps.Clone(), from: p.from}
}

func (p *pendingIntent) record() *ir.IntentRecord {
	if p == nil {
		return nil
	}
	return p.steps.Record(p.from)
}

func (rt *Runtime) setIntent(i intent.Intent) {
	if rt.txn != nil {
		rt.txn.intentSet = true
	}
	if len(i) == 0 {
		rt.intent = nil
		return
	}
	rt.intent = &pendingIntent{steps: i.Clone(), from: ir.RootID}
}

// advanceIntent resolves as many leading steps as current claims allow.
//
// Each step is searched for in preorder, starting at the node that
// resolved the previous step and then falling back to the whole tree. A
// node that declines is not asked again within the same attempt.
func (rt *Runtime) advanceIntent() error {
	for rt.intent != nil && len(rt.intent.steps) > 0 {
		step, _ := rt.intent.steps.Head()
		used := make(map[*Scope]bool)

		var (
			claimant *Scope
			claim    Claim
		)
		origins := []ir.NodeID{rt.intent.from}
		if rt.intent.from != ir.RootID {
			origins = append(origins, ir.RootID)
		}
		for _, origin := range origins {
			start, ok := rt.scopes[origin]
			if !ok {
				continue
			}
			var err error
			claimant, claim, err = rt.searchClaim(start, step, used)
			if err != nil {
				return err
			}
			if claimant != nil {
				break
			}
		}

		if claimant == nil || claim.kind == claimPending {
			return nil
		}

		rt.logger.Debug("intent step resolved", "step", step.Name, "node", claimant.id)
		if claim.action != nil {
			if err := rt.runHandler(claimant, claim.action, "intent step "+step.Name); err != nil {
				return err
			}
		}
		if rest := rt.intent.steps.Rest().Clone(); len(rest) > 0 {
			rt.intent = &pendingIntent{steps: rest, from: claimant.id}
		} else {
			rt.intent = nil
		}
		if err := rt.settle(); err != nil {
			return err
		}
	}
	return nil
}

// searchClaim walks the subtree at s in preorder and returns the first
// node that does not decline step.
func (rt *Runtime) searchClaim(s *Scope, step ir.Step, used map[*Scope]bool) (*Scope, Claim, error) {
	if !used[s] {
		if fn, ok := s.claims[step.Name]; ok {
			c, err := askClaim(s, fn, step)
			if err != nil {
				return nil, Claim{}, err
			}
			if c.kind != claimInapplicable {
				return s, c, nil
			}
			used[s] = true
		}
	}
	for _, id := range s.childIDs() {
		child, ok := rt.scopes[id]
		if !ok {
			continue
		}
		found, c, err := rt.searchClaim(child, step, used)
		if err != nil || found != nil {
			return found, c, err
		}
	}
	return nil, Claim{}, nil
}

func askClaim(s *Scope, fn ClaimFunc, step ir.Step) (c Claim, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = handlerError(s.id, "claim "+step.Name, fmt.Errorf("panic: %v", p))
		}
	}()
	return fn(step), nil
}

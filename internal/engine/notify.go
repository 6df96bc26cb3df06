package engine

import (
	"slices"

	"github.com/roach88/grove/internal/ir"
	"github.com/roach88/grove/internal/store"
)

// NotificationKind distinguishes notifications.
type NotificationKind string

const (
	// NotifyAttached reports a node that entered the tree.
	NotifyAttached NotificationKind = "attached"
	// NotifyDetached reports a node that left the tree.
	NotifyDetached NotificationKind = "detached"
	// NotifyValues reports changed value fields of a node.
	NotifyValues NotificationKind = "values"
	// NotifyRoutes reports one route whose occupants changed.
	NotifyRoutes NotificationKind = "routes"
)

// Notification describes one committed change. Notifications of a write
// are emitted after it commits, in NodeID order, and carry increasing Seq
// numbers.
type Notification struct {
	Seq     int64            `json:"seq"`
	Kind    NotificationKind `json:"kind"`
	Node    ir.NodeID        `json:"node"`
	Type    string           `json:"type,omitempty"`
	Fields  []string         `json:"fields,omitempty"`
	Route   string           `json:"route,omitempty"`
	Added   []ir.NodeID      `json:"added,omitempty"`
	Removed []ir.NodeID      `json:"removed,omitempty"`
}

// DefaultNotificationBuffer is the per-subscriber channel capacity.
const DefaultNotificationBuffer = 256

type subscription struct {
	node ir.NodeID // InvalidID subscribes to every node
	ch   chan Notification
}

// Subscribe returns a channel receiving notifications about node, and a
// function that cancels the subscription. A subscriber that falls behind
// loses notifications rather than blocking writes.
func (rt *Runtime) Subscribe(node ir.NodeID) (<-chan Notification, func()) {
	return rt.subscribe(node)
}

// SubscribeAll returns a channel receiving every notification.
func (rt *Runtime) SubscribeAll() (<-chan Notification, func()) {
	return rt.subscribe(ir.InvalidID)
}

func (rt *Runtime) subscribe(node ir.NodeID) (<-chan Notification, func()) {
	rt.subMu.Lock()
	defer rt.subMu.Unlock()

	sub := &subscription{node: node, ch: make(chan Notification, rt.notifyBuffer)}
	if rt.subsClosed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := rt.nextSub
	rt.nextSub++
	rt.subs[id] = sub
	return sub.ch, func() {
		rt.subMu.Lock()
		defer rt.subMu.Unlock()
		if s, ok := rt.subs[id]; ok {
			delete(rt.subs, id)
			close(s.ch)
		}
	}
}

func (rt *Runtime) publish(ns []Notification) {
	if len(ns) == 0 {
		return
	}
	rt.subMu.Lock()
	defer rt.subMu.Unlock()
	for _, n := range ns {
		for _, sub := range rt.subs {
			if sub.node.Valid() && sub.node != n.Node {
				continue
			}
			select {
			case sub.ch <- n:
			default:
				rt.logger.Warn("notification dropped, subscriber full", "seq", n.Seq, "node", n.Node, "kind", string(n.Kind))
			}
		}
	}
}

func (rt *Runtime) closeSubscriptions() {
	rt.subMu.Lock()
	defer rt.subMu.Unlock()
	rt.subsClosed = true
	for id, sub := range rt.subs {
		close(sub.ch)
		delete(rt.subs, id)
	}
}

// notificationsFor turns the net record changes of a write into
// notifications.
func (rt *Runtime) notificationsFor(changes []store.RecordChange) []Notification {
	var out []Notification
	add := func(n Notification) {
		n.Seq = rt.clock.Tick()
		out = append(out, n)
	}
	for _, c := range changes {
		switch {
		case c.Added():
			add(Notification{Kind: NotifyAttached, Node: c.ID, Type: c.After.Type})
		case c.Removed():
			add(Notification{Kind: NotifyDetached, Node: c.ID, Type: c.Before.Type})
		default:
			if fields := changedValues(*c.Before, *c.After); len(fields) > 0 {
				add(Notification{Kind: NotifyValues, Node: c.ID, Type: c.After.Type, Fields: fields})
			}
			for i, r := range c.After.Routes {
				var before ir.RouteRecord
				if i < len(c.Before.Routes) {
					before = c.Before.Routes[i]
				}
				if slices.Equal(before.IDs(), r.IDs()) {
					continue
				}
				added, removed := diffIDs(before.IDs(), r.IDs())
				add(Notification{Kind: NotifyRoutes, Node: c.ID, Type: c.After.Type, Route: r.Name, Added: added, Removed: removed})
			}
		}
	}
	return out
}

func changedValues(before, after ir.NodeRecord) []string {
	var fields []string
	for i, fv := range after.Values {
		if i >= len(before.Values) || before.Values[i].Name != fv.Name || !ir.Equal(before.Values[i].Value, fv.Value) {
			fields = append(fields, fv.Name)
		}
	}
	return fields
}

func diffIDs(prev, next []ir.NodeID) (added, removed []ir.NodeID) {
	for _, id := range next {
		if !slices.Contains(prev, id) {
			added = append(added, id)
		}
	}
	for _, id := range prev {
		if !slices.Contains(next, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// Package engine implements the reactive tree runtime.
//
// A Runtime owns one tree of nodes. Each node declares, from its current
// state, which children should occupy its routes and which effects should
// run. The runtime reconciles those declarations against what is attached,
// mutates the state store, notifies subscribers and resolves pending
// intents.
//
// ARCHITECTURE:
//
// Single writer:
// Every mutation runs inside one write: an external call (Start, Update,
// Write, Signal, Set, Stop) or one behavior event pumped off the event
// queue. A mutex linearizes writes; a write issued from inside another
// write is detected through its context and rejected.
//
// Write cycle:
//  1. Open the store journal.
//  2. Apply the mutation. Every changed field marks the nodes that read it
//     as dirty.
//  3. Evaluate dirty nodes top-down (shallowest first, then by NodeID):
//     rerun their rules, reconcile routes and effects, run due effects.
//  4. Repeat until nothing is dirty. A node evaluated more than the
//     configured bound aborts the write with a cycle error.
//  5. Advance the pending intent.
//  6. Commit: cancel behaviors of disposed nodes, start behaviors requested
//     during the write, emit notifications, archive the snapshot.
//
// Any error in steps 2 through 5 rolls the store, scope graph and pending intent
// back to their state before the write. Rolled-back writes start no
// behaviors and emit no notifications.
//
// Behaviors:
// Behavior bodies run on their own goroutines. Their results are enqueued
// on the event queue and applied by the pump goroutine as ordinary writes,
// so observation is always serialized with every other mutation.
package engine

package testutil

import "github.com/roach88/grove/internal/engine"

// Drain returns whatever is buffered in ch without blocking.
func Drain(ch <-chan engine.Notification) []engine.Notification {
	var out []engine.Notification
	for {
		select {
		case note, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, note)
		default:
			return out
		}
	}
}

package rocksffi

// status.go turns the C API's error strings back into status codes. The
// native side renders a status as "<code name>: <message>" (or the bare
// code name when there is no message), so the mapping inverts the known
// prefixes and falls back to IOError for anything unrecognized.

import (
	"strings"

	"github.com/aalhour/rockbridge/internal/engine"
)

func statusFromMessage(msg string) *engine.Status {
	for c := engine.CodeNotFound; c < engine.CodeMaxCode; c++ {
		name := c.String()
		if strings.HasPrefix(msg, name) {
			rest := msg[len(name):]
			if rest == "" {
				return &engine.Status{Code: c}
			}
			if strings.HasPrefix(rest, ": ") {
				return &engine.Status{Code: c, Msg: rest[2:]}
			}
		}
	}
	return &engine.Status{Code: engine.CodeIOError, Msg: msg}
}

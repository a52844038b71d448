// Package idgen mints the identifiers domguard hands out: suppression
// event IDs, IDs for pages guarded without one, and control request IDs.
package idgen

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const (
	EventPrefix = "evt_"
	PagePrefix  = "pg_"
)

var (
	// Event IDs are prefixed UUIDv7 so the event log sorts by creation time.
	Event Generator = func() string { return EventPrefix + uuid.Must(uuid.NewV7()).String() }
	// Page IDs stay short enough to type into a control request.
	Page Generator = func() string { return PagePrefix + base36(10) }
	// Request IDs tag one control call across its log lines.
	Request Generator = func() string { return base36(8) }
)

// New returns a request ID.
func New() string { return Request() }

// EventTime recovers the creation time embedded in an event ID.
func EventTime(id string) (time.Time, bool) {
	raw, ok := strings.CutPrefix(id, EventPrefix)
	if !ok {
		return time.Time{}, false
	}
	u, err := uuid.Parse(raw)
	if err != nil || u.Version() != 7 {
		return time.Time{}, false
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec), true
}

// Short returns a generator of lowercase base-36 IDs of length n.
func Short(n int) Generator {
	return func() string { return base36(n) }
}

func base36(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("idgen: crypto/rand: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}

package access

import (
	"errors"
	"strconv"
	"strings"
)

// AllowAll is the allow-list value that admits every sender.
const AllowAll = "*"

// ErrPermissionDenied is returned when a sender is not on the allow-list.
var ErrPermissionDenied = errors.New("permission denied")

// Gate decides whether a sender may talk to the bot. It is immutable after
// construction and safe for concurrent use.
type Gate struct {
	allowAll bool
	ids      map[string]struct{}
}

// NewGate parses an allow-list: "*" or a comma-separated list of sender ids.
// Entries are trimmed and empty entries dropped, so an empty list denies
// everyone.
func NewGate(list string) *Gate {
	list = strings.TrimSpace(list)
	if list == AllowAll {
		return &Gate{allowAll: true}
	}
	ids := make(map[string]struct{})
	for _, part := range strings.Split(list, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		ids[id] = struct{}{}
	}
	return &Gate{ids: ids}
}

// Allowed reports whether senderID may interact with the bot.
func (g *Gate) Allowed(senderID string) bool {
	if g == nil {
		return false
	}
	if g.allowAll {
		return true
	}
	if senderID == "" {
		return false
	}
	_, ok := g.ids[senderID]
	return ok
}

// AllowedUser is Allowed for numeric Telegram user ids.
func (g *Gate) AllowedUser(id int64) bool {
	return g.Allowed(strconv.FormatInt(id, 10))
}

// AllowsEveryone reports whether the gate was built from the "*" sentinel.
func (g *Gate) AllowsEveryone() bool {
	return g != nil && g.allowAll
}

// Size returns the number of explicitly allowed ids.
func (g *Gate) Size() int {
	if g == nil {
		return 0
	}
	return len(g.ids)
}

//go:build linux

package fanotify

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

var maskNames = []struct {
	bit  uint64
	name string
}{
	{unix.FAN_ACCESS, "ACCESS"},
	{unix.FAN_MODIFY, "MODIFY"},
	{unix.FAN_ATTRIB, "ATTRIB"},
	{unix.FAN_CLOSE_WRITE, "CLOSE_WRITE"},
	{unix.FAN_CLOSE_NOWRITE, "CLOSE_NOWRITE"},
	{unix.FAN_OPEN, "OPEN"},
	{unix.FAN_MOVED_FROM, "MOVED_FROM"},
	{unix.FAN_MOVED_TO, "MOVED_TO"},
	{unix.FAN_CREATE, "CREATE"},
	{unix.FAN_DELETE, "DELETE"},
	{unix.FAN_DELETE_SELF, "DELETE_SELF"},
	{unix.FAN_MOVE_SELF, "MOVE_SELF"},
	{unix.FAN_OPEN_EXEC, "OPEN_EXEC"},
	{unix.FAN_Q_OVERFLOW, "Q_OVERFLOW"},
	{unix.FAN_OPEN_PERM, "OPEN_PERM"},
	{unix.FAN_ACCESS_PERM, "ACCESS_PERM"},
	{unix.FAN_OPEN_EXEC_PERM, "OPEN_EXEC_PERM"},
	{unix.FAN_ONDIR, "ONDIR"},
	{unix.FAN_EVENT_ON_CHILD, "EVENT_ON_CHILD"},
}

// MaskString renders mask as "OPEN|CLOSE_WRITE". Bits without a name are
// appended in hex.
func MaskString(mask uint64) string {
	var names []string
	rest := mask
	for _, m := range maskNames {
		if mask&m.bit != 0 {
			names = append(names, m.name)
			rest &^= m.bit
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("OTHER(0x%x)", rest))
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// ParseMask ORs together event names as printed by MaskString. Names are
// case-insensitive and may carry a FAN_ prefix. CLOSE expands to both close
// events.
func ParseMask(names []string) (uint64, error) {
	var mask uint64
	for _, n := range names {
		n = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(n)), "FAN_")
		if n == "" {
			continue
		}
		if n == "CLOSE" {
			mask |= unix.FAN_CLOSE_WRITE | unix.FAN_CLOSE_NOWRITE
			continue
		}
		found := false
		for _, m := range maskNames {
			if m.name == n {
				mask |= m.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown fanotify event %q", n)
		}
	}
	return mask, nil
}

// ParseClass maps "notif", "content" or "pre-content" to a FAN_CLASS_* flag.
func ParseClass(name string) (uint, error) {
	switch strings.ToLower(name) {
	case "", "notif", "notify", "notification":
		return unix.FAN_CLASS_NOTIF, nil
	case "content":
		return unix.FAN_CLASS_CONTENT, nil
	case "pre-content", "precontent":
		return unix.FAN_CLASS_PRE_CONTENT, nil
	}
	return 0, fmt.Errorf("unknown fanotify class %q", name)
}

package domain

import "fmt"

// Priority represents task priority. Lower values are served first.
type Priority int

const (
	// PriorityUtmost is for tasks that must run before anything else.
	PriorityUtmost Priority = 0

	// PriorityHigh is for urgent tasks.
	PriorityHigh Priority = 1

	// PriorityNormal is the default priority.
	PriorityNormal Priority = 2
)

// String returns the string representation of a priority.
func (p Priority) String() string {
	switch p {
	case PriorityUtmost:
		return "utmost"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "normal"
	}
}

// IsValid returns true if the priority is a known value.
func (p Priority) IsValid() bool {
	return p >= PriorityUtmost && p <= PriorityNormal
}

// ParsePriority converts a string or integer value to a Priority.
func ParsePriority(value any) (Priority, error) {
	switch v := value.(type) {
	case Priority:
		return v, nil
	case int:
		return parsePriorityInt(v)
	case int64:
		return parsePriorityInt(int(v))
	case float64:
		return parsePriorityInt(int(v))
	case string:
		return parsePriorityString(v)
	default:
		return PriorityNormal, fmt.Errorf("invalid priority type %T", value)
	}
}

func parsePriorityInt(v int) (Priority, error) {
	p := Priority(v)
	if !p.IsValid() {
		return PriorityNormal, fmt.Errorf("invalid priority value %d: must be 0, 1 or 2", v)
	}
	return p, nil
}

func parsePriorityString(v string) (Priority, error) {
	switch v {
	case "utmost", "0":
		return PriorityUtmost, nil
	case "high", "1":
		return PriorityHigh, nil
	case "normal", "2", "":
		return PriorityNormal, nil
	default:
		return PriorityNormal, fmt.Errorf("invalid priority %q: must be utmost, high or normal", v)
	}
}

// AllPriorities returns all priorities in dequeue order (utmost first).
func AllPriorities() []Priority {
	return []Priority{PriorityUtmost, PriorityHigh, PriorityNormal}
}

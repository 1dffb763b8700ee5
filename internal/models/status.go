package models

// Status is the lifecycle state shared by invites, activation keys and Discord link codes.
type Status string

const (
	StatusActive  Status = "active"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusUsed, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// ParseStatus returns the status named by s, or false for unknown input.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.Valid()
}

// Nothing ever returns to active; these tables list every permitted edge.
var (
	singleUseTransitions = map[Status][]Status{
		StatusActive: {StatusUsed, StatusExpired, StatusRevoked},
	}
	keyTransitions = map[Status][]Status{
		StatusActive:  {StatusUsed, StatusExpired, StatusRevoked},
		StatusUsed:    {StatusExpired, StatusRevoked},
		StatusExpired: {StatusRevoked},
	}
)

func allowed(table map[Status][]Status, from, to Status) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

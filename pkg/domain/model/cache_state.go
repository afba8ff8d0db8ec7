package model

// CacheState is the lifecycle state of one key in a user cache.
// Transitions: Unknown -> Loading -> {Resolved | Failed}. Resolved and Failed are terminal.
type CacheState int

const (
	CacheStateUnknown CacheState = iota
	CacheStateLoading
	CacheStateResolved
	CacheStateFailed
)

func (s CacheState) String() string {
	switch s {
	case CacheStateLoading:
		return "loading"
	case CacheStateResolved:
		return "resolved"
	case CacheStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for states that are never left
func (s CacheState) IsTerminal() bool {
	return s == CacheStateResolved || s == CacheStateFailed
}

// MarshalText implements encoding.TextMarshaler
func (s CacheState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

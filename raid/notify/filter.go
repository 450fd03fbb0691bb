package notify

// Filter selects the events an observer wants. Empty fields match anything.
type Filter struct {
	MemberID string `json:"member_id,omitempty"`
	Kinds    []Kind `json:"kinds,omitempty"`
}

func (f Filter) Match(e Event) bool {
	if f.MemberID != "" && f.MemberID != e.MemberID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

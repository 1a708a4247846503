package rendezvous

// Filter selects events by kind and tag values. A non-empty Kinds list
// requires the event's kind to be a member; a non-empty entry in Tags
// requires the event to carry at least one matching tag value for that
// key. Since, if set, requires CreatedAt >= Since.
type Filter struct {
	Kinds []int               `json:"kinds,omitempty"`
	Tags  map[string][]string `json:"-"`
	Since *int64              `json:"since,omitempty"`
}

// marshalTags renders Tags in the "#<key>" query-parameter
// convention used by the REQ frame sent to the substrate.
func (f Filter) marshalTags() map[string][]string {
	out := make(map[string][]string, len(f.Tags))
	for k, v := range f.Tags {
		out["#"+k] = v
	}
	return out
}

// Matches reports whether an event satisfies this filter. Used for
// client-side re-validation of whatever the substrate sends, since the
// substrate is untrusted infrastructure, not an authority.
func (f Filter) Matches(e *Event) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}

	for key, wanted := range f.Tags {
		values := e.TagValues(key)
		matched := false
		for _, v := range values {
			for _, w := range wanted {
				if v == w {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

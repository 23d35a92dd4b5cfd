package events

// Access rules are pure predicates over an event snapshot and a viewer
// identity. Both the web and API adapters call these and nothing else, so the
// two surfaces cannot drift apart.

// CanView reports whether viewerID may read the event. Public events are
// visible to everyone, including unauthenticated viewers (empty viewerID).
// Private events are visible only to their creator.
func CanView(e *Event, viewerID string) bool {
	if e == nil {
		return false
	}
	if !e.IsPrivate {
		return true
	}
	return viewerID != "" && viewerID == e.CreatedBy
}

// CanModify reports whether actorID may edit or delete the event. Only the
// authenticated creator holds write rights; reads are governed by CanView.
func CanModify(e *Event, actorID string) bool {
	if e == nil {
		return false
	}
	return actorID != "" && actorID == e.CreatedBy
}

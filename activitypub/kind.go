package activitypub

// Kind is the closed set of activity types the engine understands
type Kind int

const (
	KindUnknown Kind = iota
	KindCreate
	KindAnnounce
	KindDelete
	KindFollow
	KindLike
	KindEmojiReact
	KindBlock
	KindUpdate
	KindUndo
	KindAccept
	KindReject
	KindFlag
	KindAdd
	KindRemove
	KindMove
	KindJoin
	KindLeave
	KindQuoteRequest
)

var kindNames = map[Kind]string{
	KindUnknown:      "Unknown",
	KindCreate:       "Create",
	KindAnnounce:     "Announce",
	KindDelete:       "Delete",
	KindFollow:       "Follow",
	KindLike:         "Like",
	KindEmojiReact:   "EmojiReact",
	KindBlock:        "Block",
	KindUpdate:       "Update",
	KindUndo:         "Undo",
	KindAccept:       "Accept",
	KindReject:       "Reject",
	KindFlag:         "Flag",
	KindAdd:          "Add",
	KindRemove:       "Remove",
	KindMove:         "Move",
	KindJoin:         "Join",
	KindLeave:        "Leave",
	KindQuoteRequest: "QuoteRequest",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		if k != KindUnknown {
			m[name] = k
		}
	}
	// Older Pleroma releases
	m["EmojiReaction"] = KindEmojiReact
	return m
}()

// ParseKind maps an activity type to its Kind. Unknown types map to KindUnknown.
func ParseKind(activityType string) Kind {
	return kindsByName[activityType]
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

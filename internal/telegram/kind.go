package telegram

// ChatKind classifies the entity a message came from.
type ChatKind int

const (
	KindUnknown ChatKind = iota
	KindChannel
	KindGroup
	KindUser
)

// KindFromType maps a Bot API chat type to a ChatKind.
func KindFromType(chatType string) ChatKind {
	switch chatType {
	case "channel":
		return KindChannel
	case "group", "supergroup":
		return KindGroup
	case "private":
		return KindUser
	default:
		return KindUnknown
	}
}

func (k ChatKind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindGroup:
		return "group"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

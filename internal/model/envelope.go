package model

// Inbound message types as WeChat tags them.
const (
	MsgTypeText  = "text"
	MsgTypeVoice = "voice"
	MsgTypeEvent = "event"
)

// EventSubscribe is the follow event fired when a user subscribes to the
// official account.
const EventSubscribe = "subscribe"

// InboundEnvelope is one parsed webhook callback. Ephemeral, one per
// HTTP request.
type InboundEnvelope struct {
	ToUser      string
	FromUser    string
	CreateTime  int64
	MsgType     string
	Content     string
	MsgID       string
	Event       string
	Recognition string
}

// SessionKey derives the stable conversation identifier for the sender.
func (e *InboundEnvelope) SessionKey() string {
	return "wechat_mp:" + e.FromUser
}

// UserIDFromSessionKey recovers the platform user id from a session key.
func UserIDFromSessionKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[i+1:]
		}
	}
	return key
}

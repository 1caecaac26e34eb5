// internal/model/settings.go
package model

// Settings is the behavior configuration applied to a channel instance on
// the remote gateway. It is a value object: set operations push a full
// replacement, never a partial patch.
type Settings struct {
	RejectCall      bool   `json:"rejectCall"`
	MsgCall         string `json:"msgCall,omitempty"`
	GroupsIgnore    bool   `json:"groupsIgnore"`
	AlwaysOnline    bool   `json:"alwaysOnline"`
	ReadMessages    bool   `json:"readMessages"`
	ReadStatus      bool   `json:"readStatus"`
	SyncFullHistory bool   `json:"syncFullHistory"`
}

// DefaultSettings is what a channel behaves like before anything was ever
// pushed to the gateway, and what get falls back to when the gateway has
// nothing stored.
func DefaultSettings() Settings {
	return Settings{
		RejectCall:      true,
		MsgCall:         "Calls are not supported on this channel.",
		GroupsIgnore:    true,
		AlwaysOnline:    true,
		ReadMessages:    true,
		ReadStatus:      true,
		SyncFullHistory: false,
	}
}

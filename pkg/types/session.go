// Package types provides the core wire and persistence data types for the
// ECLIA gateway.
package types

import "regexp"

// sessionIDPattern is the charset rule for session identifiers.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,120}$`)

// IsValidSessionID reports whether s satisfies the session id charset rule.
func IsValidSessionID(s string) bool {
	return sessionIDPattern.MatchString(s)
}

// Meta is the single-writer JSON snapshot of a session's metadata, stored at
// <root>/.eclia/sessions/<id>/meta.json.
type Meta struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt int64   `json:"updatedAt"`
	Origin    *Origin `json:"origin,omitempty"`
	LastModel string  `json:"lastModel,omitempty"`
}

// Origin is a tagged-sum-type descriptor of where a chat request came from.
// Kind discriminates the variant; only the fields relevant to that kind are
// populated.
type Origin struct {
	Kind    string `json:"kind"` // "web" | "discord" | "telegram"
	Guild   string `json:"guild,omitempty"`
	Channel string `json:"channel,omitempty"`
	Thread  string `json:"thread,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

// CompatibleWith reports whether patch may be merged onto the stored origin:
// an origin is only ever refined by a same-kind patch, never re-tagged.
func (o *Origin) CompatibleWith(patch *Origin) bool {
	if o == nil || patch == nil {
		return true
	}
	return o.Kind == patch.Kind
}

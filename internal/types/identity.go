package types

import "time"

// IdentityEntry maps a rewritten user/group name to its Docs4U ID within one scope.
// ExpiresAt is in unix milliseconds.
type IdentityEntry struct {
	ScopeKey  string `dynamodbav:"scope_key" json:"scope_key"`
	Name      string `dynamodbav:"name" json:"name"`
	TargetID  string `dynamodbav:"target_id" json:"target_id"`
	ExpiresAt int64  `dynamodbav:"expires_at" json:"expires_at"`
}

// Live reports whether the entry may still be served at now.
func (e IdentityEntry) Live(now time.Time) bool {
	return e.ExpiresAt > now.UnixMilli()
}

package auth

import "time"

// SchemeUsage records that a user authenticated through a scheme and when.
type SchemeUsage struct {
	Name     string
	LastUsed time.Time
}

// UserInfo describes an identity. The zero identity id is the unique
// anonymous user.
//
// UserInfo values are treated as immutable once created.
type UserInfo struct {
	id      int
	name    string
	schemes []SchemeUsage
}

// Anonymous is the unique identity-less user (id 0, empty name).
var Anonymous = &UserInfo{}

// NewUserInfo creates a UserInfo. An id of 0 with any name or schemes is
// normalized to Anonymous.
func NewUserInfo(id int, name string, schemes []SchemeUsage) *UserInfo {
	if id == 0 {
		return Anonymous
	}
	cp := make([]SchemeUsage, len(schemes))
	copy(cp, schemes)
	return &UserInfo{id: id, name: name, schemes: cp}
}

// ID returns the identity id. 0 is anonymous.
func (u *UserInfo) ID() int {
	if u == nil {
		return 0
	}
	return u.id
}

// Name returns the display name.
func (u *UserInfo) Name() string {
	if u == nil {
		return ""
	}
	return u.name
}

// Schemes returns the provider usage records. The returned slice must not
// be mutated.
func (u *UserInfo) Schemes() []SchemeUsage {
	if u == nil {
		return nil
	}
	return u.schemes
}

// IsAnonymous reports whether this is the anonymous user.
func (u *UserInfo) IsAnonymous() bool {
	return u == nil || u.id == 0
}

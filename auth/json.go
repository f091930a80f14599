package auth

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrMalformed is returned when a JSON document does not describe a
// valid UserInfo or Info.
var ErrMalformed = errors.New("malformed authentication json")

type schemeUsageJSON struct {
	Name     string    `json:"name"`
	LastUsed time.Time `json:"lastUsed"`
}

type userInfoJSON struct {
	ID      int               `json:"id"`
	Name    string            `json:"name,omitempty"`
	Schemes []schemeUsageJSON `json:"schemes,omitempty"`
}

type infoJSON struct {
	User       *userInfoJSON `json:"user"`
	ActualUser *userInfoJSON `json:"actualUser,omitempty"`
	Exp        *time.Time    `json:"exp,omitempty"`
	CExp       *time.Time    `json:"cexp,omitempty"`
	DeviceID   string        `json:"deviceId,omitempty"`
}

func userToJSON(u *UserInfo) *userInfoJSON {
	j := &userInfoJSON{ID: u.ID(), Name: u.Name()}
	for _, s := range u.Schemes() {
		j.Schemes = append(j.Schemes, schemeUsageJSON{Name: s.Name, LastUsed: s.LastUsed.UTC()})
	}
	return j
}

func userFromJSON(j *userInfoJSON) *UserInfo {
	if j == nil {
		return Anonymous
	}
	schemes := make([]SchemeUsage, 0, len(j.Schemes))
	for _, s := range j.Schemes {
		schemes = append(schemes, SchemeUsage{Name: s.Name, LastUsed: s.LastUsed.UTC()})
	}
	return NewUserInfo(j.ID, j.Name, schemes)
}

// MarshalUserInfo encodes a UserInfo to its wire JSON.
func MarshalUserInfo(u *UserInfo) ([]byte, error) {
	return json.Marshal(userToJSON(u))
}

// UnmarshalUserInfo decodes a UserInfo from its wire JSON.
func UnmarshalUserInfo(data []byte) (*UserInfo, error) {
	var j userInfoJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, ErrMalformed
	}
	return userFromJSON(&j), nil
}

// MarshalInfo encodes an Info to its wire JSON. The stored (unsafe)
// identities are serialized: the receiving side recomputes the level
// against its own clock. The actualUser field is omitted when no
// impersonation is in progress.
func MarshalInfo(a *Info) ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	j := infoJSON{
		User:     userToJSON(a.UnsafeUser()),
		Exp:      a.Expires(),
		CExp:     a.CriticalExpires(),
		DeviceID: a.DeviceID(),
	}
	if a.IsImpersonated() {
		j.ActualUser = userToJSON(a.UnsafeActualUser())
	}
	return json.Marshal(j)
}

// UnmarshalInfo decodes an Info from its wire JSON, computing the level
// at now. A JSON null yields nil.
func UnmarshalInfo(data []byte, now time.Time) (*Info, error) {
	if len(data) == 0 {
		return nil, ErrMalformed
	}
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrMalformed
	}
	if string(raw) == "null" {
		return nil, nil
	}
	var j infoJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, ErrMalformed
	}
	if j.User == nil {
		return nil, ErrMalformed
	}
	user := userFromJSON(j.User)
	actual := user
	if j.ActualUser != nil {
		actual = userFromJSON(j.ActualUser)
	}
	return newInfo(actual, user, j.Exp, j.CExp, j.DeviceID, now), nil
}

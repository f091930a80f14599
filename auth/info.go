package auth

import "time"

// Info is the immutable authentication state of a subject: the acting
// identity, the originally authenticated identity, the strength level,
// the expirations and the device id.
//
// The stored identities are the "unsafe" ones: they survive normal
// expiration. User and ActualUser gate them behind the current level so
// that an expired authentication presents the anonymous user while
// UnsafeUser still returns the retained identity.
type Info struct {
	actualUser      *UserInfo
	user            *UserInfo
	expires         *time.Time
	criticalExpires *time.Time
	deviceID        string
	level           Level
}

// None returns an anonymous Info carrying only a device id (possibly empty).
func None(deviceID string) *Info {
	return &Info{actualUser: Anonymous, user: Anonymous, deviceID: deviceID, level: LevelNone}
}

// New creates an Info for a single (non impersonated) identity. A nil
// expires yields LevelUnsafe for a non-anonymous user: identity is known
// but nothing is authorized.
func New(user *UserInfo, expires, criticalExpires *time.Time, deviceID string, now time.Time) *Info {
	return newInfo(user, user, expires, criticalExpires, deviceID, now)
}

// NewImpersonated creates an Info where user differs from actualUser.
// Both identities must be non-anonymous; the level is at least Unsafe.
func NewImpersonated(actualUser, user *UserInfo, expires, criticalExpires *time.Time, deviceID string, now time.Time) *Info {
	return newInfo(actualUser, user, expires, criticalExpires, deviceID, now)
}

func newInfo(actualUser, user *UserInfo, expires, criticalExpires *time.Time, deviceID string, now time.Time) *Info {
	if actualUser == nil {
		actualUser = Anonymous
	}
	if user == nil {
		user = actualUser
	}
	if actualUser.IsAnonymous() {
		// None implies all identities are anonymous.
		user = Anonymous
		actualUser = Anonymous
	}
	expires = copyTime(expires)
	criticalExpires = copyTime(criticalExpires)
	if criticalExpires != nil && (expires == nil || expires.Before(*criticalExpires)) {
		// CriticalExpires is a floor for Expires.
		e := *criticalExpires
		expires = &e
	}
	return &Info{
		actualUser:      actualUser,
		user:            user,
		expires:         expires,
		criticalExpires: criticalExpires,
		deviceID:        deviceID,
		level:           computeLevel(actualUser, expires, criticalExpires, now),
	}
}

func computeLevel(actualUser *UserInfo, expires, criticalExpires *time.Time, now time.Time) Level {
	if actualUser.IsAnonymous() {
		return LevelNone
	}
	if expires == nil || !expires.After(now) {
		return LevelUnsafe
	}
	if criticalExpires != nil && criticalExpires.After(now) {
		return LevelCritical
	}
	return LevelNormal
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

// Level returns the authentication strength as computed when this Info
// was created or last checked. Use CheckExpiration to derive the view at
// a later time.
func (a *Info) Level() Level { return a.level }

// User returns the effective identity: Anonymous unless the level is at
// least Normal.
func (a *Info) User() *UserInfo {
	if a.level >= LevelNormal {
		return a.user
	}
	return Anonymous
}

// ActualUser returns the originally authenticated identity, gated like User.
func (a *Info) ActualUser() *UserInfo {
	if a.level >= LevelNormal {
		return a.actualUser
	}
	return Anonymous
}

// UnsafeUser returns the acting identity regardless of expiration.
func (a *Info) UnsafeUser() *UserInfo { return a.user }

// UnsafeActualUser returns the original identity regardless of expiration.
func (a *Info) UnsafeActualUser() *UserInfo { return a.actualUser }

// Expires returns a copy of the expiration time, nil when unset.
func (a *Info) Expires() *time.Time { return copyTime(a.expires) }

// CriticalExpires returns a copy of the critical expiration, nil when unset.
func (a *Info) CriticalExpires() *time.Time { return copyTime(a.criticalExpires) }

// DeviceID returns the opaque device identifier, empty when none was
// assigned yet.
func (a *Info) DeviceID() string { return a.deviceID }

// IsImpersonated reports whether the acting identity differs from the
// originally authenticated one.
func (a *Info) IsImpersonated() bool { return a.user.ID() != a.actualUser.ID() }

// IsNone reports whether this Info carries no identity at all.
func (a *Info) IsNone() bool { return a.actualUser.IsAnonymous() }

// CheckExpiration derives the view of this Info at now. The stored
// timestamps are never mutated: when nothing changed the receiver itself
// is returned, otherwise a downgraded copy is created (Critical drops to
// Normal when criticalExpires passed, Normal drops to Unsafe when
// expires passed).
func (a *Info) CheckExpiration(now time.Time) *Info {
	l := computeLevel(a.actualUser, a.expires, a.criticalExpires, now)
	if l == a.level {
		return a
	}
	return newInfo(a.actualUser, a.user, a.expires, a.criticalExpires, a.deviceID, now)
}

// SetExpires returns an Info with the new expiration. A nil expires on a
// non-anonymous identity downgrades to Unsafe.
func (a *Info) SetExpires(expires *time.Time, now time.Time) *Info {
	cexp := a.criticalExpires
	if expires == nil {
		cexp = nil
	}
	return newInfo(a.actualUser, a.user, expires, cexp, a.deviceID, now)
}

// SetCriticalExpires returns an Info with the new critical expiration,
// raising Expires to at least that value.
func (a *Info) SetCriticalExpires(criticalExpires *time.Time, now time.Time) *Info {
	return newInfo(a.actualUser, a.user, a.expires, criticalExpires, a.deviceID, now)
}

// SetDeviceID returns an Info bound to the given device id.
func (a *Info) SetDeviceID(deviceID string, now time.Time) *Info {
	return newInfo(a.actualUser, a.user, a.expires, a.criticalExpires, deviceID, now)
}

// Impersonate returns an Info acting as user while keeping the current
// actual user. Impersonating the actual user itself clears impersonation.
func (a *Info) Impersonate(user *UserInfo, now time.Time) *Info {
	if user.IsAnonymous() {
		return a.ClearImpersonation(now)
	}
	if user.ID() == a.actualUser.ID() {
		return a.ClearImpersonation(now)
	}
	return newInfo(a.actualUser, user, a.expires, a.criticalExpires, a.deviceID, now)
}

// ClearImpersonation returns an Info where the acting identity is the
// actual one again.
func (a *Info) ClearImpersonation(now time.Time) *Info {
	if !a.IsImpersonated() {
		return a
	}
	return newInfo(a.actualUser, a.actualUser, a.expires, a.criticalExpires, a.deviceID, now)
}

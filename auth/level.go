package auth

// Level is the ordered authentication strength.
//
// The order is total: None < Unsafe < Normal < Critical. None implies an
// anonymous identity. Unsafe means an identity is known (typically from
// the long-term cookie or an expired session) but must never authorize
// sensitive actions.
type Level uint8

const (
	// LevelNone means no identity at all.
	LevelNone Level = iota
	// LevelUnsafe means an identity hint that does not authorize anything.
	LevelUnsafe
	// LevelNormal is a regular, live authentication.
	LevelNormal
	// LevelCritical is a step-up authentication bounded by CriticalExpires.
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "None"
	case LevelUnsafe:
		return "Unsafe"
	case LevelNormal:
		return "Normal"
	case LevelCritical:
		return "Critical"
	}
	return "Invalid"
}

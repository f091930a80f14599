package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/webfront-go/webfront/auth"
)

// ErrTokenInvalid is returned on tamper, format mismatch, namespace
// mismatch or channel-binding mismatch. No finer-grained cause is ever
// exposed.
var ErrTokenInvalid = errors.New("invalid token")

// ErrKeyTooShort is returned by NewProtector for master keys shorter
// than 32 bytes.
var ErrKeyTooShort = errors.New("master key must be at least 32 bytes")

const (
	purposeCookie = "Cookie.v1"
	purposeBearer = "Token.v1"
	purposeExtra  = "Extra.v1"
	purposeTimed  = "Timed.v1"
)

// Protector protects and unprotects authentication material under
// purpose-bound keys derived from one master key.
//
// Protector instances are immutable and safe for concurrent use.
type Protector struct {
	cookieKey []byte
	bearerKey []byte
	extraKey  []byte
	timedKey  []byte
}

// NewProtector creates a Protector from a master key of at least 32 bytes.
func NewProtector(masterKey []byte) (*Protector, error) {
	if len(masterKey) < 32 {
		return nil, ErrKeyTooShort
	}
	return &Protector{
		cookieKey: deriveKey(masterKey, purposeCookie),
		bearerKey: deriveKey(masterKey, purposeBearer),
		extraKey:  deriveKey(masterKey, purposeExtra),
		timedKey:  deriveKey(masterKey, purposeTimed),
	}, nil
}

func deriveKey(master []byte, purpose string) []byte {
	mac := hmac.New(sha256.New, master)
	mac.Write([]byte("webfront/" + purpose))
	return mac.Sum(nil)
}

type infoClaims struct {
	Info       json.RawMessage `json:"info"`
	RememberMe bool            `json:"rm,omitempty"`
	Binding    string          `json:"cb,omitempty"`
	jwt.RegisteredClaims
}

type extraClaims struct {
	Data    url.Values `json:"data"`
	Binding string     `json:"cb,omitempty"`
	jwt.RegisteredClaims
}

type stringClaims struct {
	Value   string `json:"val"`
	Binding string `json:"cb,omitempty"`
	jwt.RegisteredClaims
}

// ProtectBearer seals an authentication info under the bearer namespace.
func (p *Protector) ProtectBearer(info *auth.Info, rememberMe bool, binding string) (string, error) {
	return p.protectInfo(p.bearerKey, info, rememberMe, binding)
}

// UnprotectBearer opens a bearer token. It fails with ErrTokenInvalid on
// tamper, on cookie-namespace material and on binding mismatch.
func (p *Protector) UnprotectBearer(s, binding string, now time.Time) (*auth.Info, bool, error) {
	return p.unprotectInfo(p.bearerKey, s, binding, now)
}

// ProtectCookie seals an authentication info under the cookie namespace.
func (p *Protector) ProtectCookie(info *auth.Info, rememberMe bool, binding string) (string, error) {
	return p.protectInfo(p.cookieKey, info, rememberMe, binding)
}

// UnprotectCookie opens a cookie value sealed by ProtectCookie.
func (p *Protector) UnprotectCookie(s, binding string, now time.Time) (*auth.Info, bool, error) {
	return p.unprotectInfo(p.cookieKey, s, binding, now)
}

func (p *Protector) protectInfo(key []byte, info *auth.Info, rememberMe bool, binding string) (string, error) {
	raw, err := auth.MarshalInfo(info)
	if err != nil {
		return "", err
	}
	claims := infoClaims{Info: raw, RememberMe: rememberMe, Binding: binding}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

func (p *Protector) unprotectInfo(key []byte, s, binding string, now time.Time) (*auth.Info, bool, error) {
	var claims infoClaims
	if err := p.parse(key, s, &claims, &claims.Binding, binding); err != nil {
		return nil, false, err
	}
	info, err := auth.UnmarshalInfo(claims.Info, now)
	if err != nil || info == nil {
		return nil, false, ErrTokenInvalid
	}
	return info, claims.RememberMe, nil
}

// ProtectExtra seals arbitrary key/multi-value data under the extra-data
// namespace. Used to round-trip client-supplied data through federated
// login handshakes.
func (p *Protector) ProtectExtra(data url.Values, binding string) (string, error) {
	claims := extraClaims{Data: data, Binding: binding}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.extraKey)
}

// UnprotectExtra opens an extra-data blob sealed by ProtectExtra.
func (p *Protector) UnprotectExtra(s, binding string) (url.Values, error) {
	var claims extraClaims
	if err := p.parse(p.extraKey, s, &claims, &claims.Binding, binding); err != nil {
		return nil, err
	}
	if claims.Data == nil {
		claims.Data = url.Values{}
	}
	return claims.Data, nil
}

// ProtectString seals a short opaque string that self-expires after
// duration. This protection expiry is independent from any expiration
// carried by an authentication info payload.
func (p *Protector) ProtectString(value string, duration time.Duration, binding string, now time.Time) (string, error) {
	claims := stringClaims{
		Value:   value,
		Binding: binding,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.timedKey)
}

// UnprotectString opens a time-limited string. Expired material fails
// with ErrTokenInvalid exactly like tampered material.
func (p *Protector) UnprotectString(s, binding string) (string, error) {
	var claims stringClaims
	if err := p.parse(p.timedKey, s, &claims, &claims.Binding, binding); err != nil {
		return "", err
	}
	return claims.Value, nil
}

func (p *Protector) parse(key []byte, s string, claims jwt.Claims, sealed *string, binding string) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	tok, err := parser.ParseWithClaims(s, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil || !tok.Valid {
		return ErrTokenInvalid
	}
	if !hmac.Equal([]byte(*sealed), []byte(binding)) {
		return ErrTokenInvalid
	}
	return nil
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleClinic  = "clinic"
	RolePatient = "patient"

	useAccess  = "access"
	useChannel = "channel"
)

var ErrInvalidToken = errors.New("invalid token")

type Identity struct {
	Role    string `json:"role"`
	Subject string `json:"subject"`
}

func (i Identity) IsClinic() bool  { return i.Role == RoleClinic }
func (i Identity) IsPatient() bool { return i.Role == RolePatient }

type accessClaims struct {
	Role string `json:"role"`
	Use  string `json:"use"`
	jwt.RegisteredClaims
}

type channelClaims struct {
	Channel  string `json:"channel"`
	SocketID string `json:"socket_id"`
	Use      string `json:"use"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 access tokens and short-lived channel tokens.
type Issuer struct {
	secret     []byte
	ttl        time.Duration
	channelTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, channelTTL: 5 * time.Minute, now: time.Now}
}

func (i *Issuer) Issue(identity Identity) (string, time.Time, error) {
	if identity.Role != RoleClinic && identity.Role != RolePatient {
		return "", time.Time{}, fmt.Errorf("unknown role %q", identity.Role)
	}
	now := i.now()
	expires := now.Add(i.ttl)
	claims := accessClaims{
		Role: identity.Role,
		Use:  useAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (i *Issuer) Parse(token string) (Identity, error) {
	var claims accessClaims
	if err := i.parse(token, &claims); err != nil {
		return Identity{}, err
	}
	if claims.Use != useAccess || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Role: claims.Role, Subject: claims.Subject}, nil
}

// IssueChannel grants one socket the right to subscribe to one channel.
func (i *Issuer) IssueChannel(identity Identity, socketID, channel string) (string, error) {
	now := i.now()
	claims := channelClaims{
		Channel:  channel,
		SocketID: socketID,
		Use:      useChannel,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.channelTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func (i *Issuer) VerifyChannel(token, socketID, channel string) error {
	var claims channelClaims
	if err := i.parse(token, &claims); err != nil {
		return err
	}
	if claims.Use != useChannel || claims.Channel != channel || claims.SocketID != socketID {
		return ErrInvalidToken
	}
	return nil
}

func (i *Issuer) parse(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
)

// AdminPrincipal is the operator identity carried by a management-API
// bearer token.
type AdminPrincipal struct {
	Subject string
	Email   string
}

// AuthService validates the HS256 bearer tokens minted by the identity
// provider for management endpoints. It never sees API keys.
type AuthService struct {
	jwtSecret []byte
	issuer    string
}

func NewAuthService(jwtSecret, issuer string) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
	}
}

// ValidateJWT verifies a JWT bearer token and returns the associated admin identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*AdminPrincipal, error) {
	claims := &jwtClaims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidCredentials
	}

	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}

	return &AdminPrincipal{
		Subject: claims.Subject,
		Email:   claims.Email,
	}, nil
}

// IssueJWT creates a new signed JWT token for the given operator.
func (s *AuthService) IssueJWT(ctx context.Context, subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

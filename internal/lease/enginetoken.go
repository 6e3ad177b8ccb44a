package lease

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	serviceerrors "github.com/agentctl/core/internal/errors"
)

// EngineClaims carries the scope of an engine-issued token used to
// authorize claim/heartbeat/release calls.
type EngineClaims struct {
	PrincipalID  string   `json:"principal_id"`
	WorkspaceID  string   `json:"workspace_id"`
	AllowedRooms []string `json:"allowed_rooms,omitempty"`
	Actions      []string `json:"actions"`
	jwt.RegisteredClaims
}

// AllowsAction reports whether the token's action allowlist covers action.
func (c EngineClaims) AllowsAction(action string) bool {
	for _, a := range c.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// AllowsRoom reports whether the token scopes to roomID, or to no rooms
// in particular (workspace-wide).
func (c EngineClaims) AllowsRoom(roomID string) bool {
	if len(c.AllowedRooms) == 0 {
		return true
	}
	for _, r := range c.AllowedRooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// EngineTokenVerifier verifies engine tokens signed with a shared secret.
type EngineTokenVerifier struct {
	secret []byte
}

// NewEngineTokenVerifier constructs a verifier for the given HMAC secret.
func NewEngineTokenVerifier(secret string) *EngineTokenVerifier {
	return &EngineTokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString, returning engine_token_invalid
// for any structural/signature problem and engine_token_expired for an
// otherwise-valid but expired token.
func (v *EngineTokenVerifier) Verify(tokenString string) (EngineClaims, error) {
	var claims EngineClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return EngineClaims{}, serviceerrors.New(serviceerrors.ReasonEngineTokenExpired, "engine token expired")
		}
		return EngineClaims{}, serviceerrors.New(serviceerrors.ReasonEngineTokenInvalid, "engine token invalid")
	}
	if !token.Valid {
		return EngineClaims{}, serviceerrors.New(serviceerrors.ReasonEngineTokenInvalid, "engine token invalid")
	}
	return claims, nil
}

// Issue signs a new engine token for the given scope, valid for ttl.
func (v *EngineTokenVerifier) Issue(principalID, workspaceID string, allowedRooms, actions []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := EngineClaims{
		PrincipalID:  principalID,
		WorkspaceID:  workspaceID,
		AllowedRooms: allowedRooms,
		Actions:      actions,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   principalID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

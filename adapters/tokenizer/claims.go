package tokenizer

import "github.com/golang-jwt/jwt/v5"

// ControlClaims are the claims carried by a control API token
type ControlClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CredentialType distinguishes the two supported authentication schemes.
type CredentialType string

const (
	CredentialJWT    CredentialType = "jwt"
	CredentialAPIKey CredentialType = "api-key"
)

var (
	// ErrNoCredential is returned when no credential has been configured.
	ErrNoCredential = errors.New("protocol: no credential configured")
	// ErrInvalidCredential is returned for incomplete or ambiguous credentials.
	ErrInvalidCredential = errors.New("protocol: invalid credential")
)

// Header names used for API key authentication.
const (
	HeaderAuthorization = "authorization"
	HeaderAPIKey        = "x-api-key"
	HeaderAPISecret     = "x-api-secret"
)

// Credential is either a JWT or an API key/secret pair, fixed at client
// construction.
type Credential struct {
	Type   CredentialType `json:"type" yaml:"type"`
	JWT    string         `json:"jwt,omitempty" yaml:"jwt,omitempty"`
	Key    string         `json:"key,omitempty" yaml:"key,omitempty"`
	Secret string         `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// JWTCredential builds a JWT credential.
func JWTCredential(jwt string) Credential {
	return Credential{Type: CredentialJWT, JWT: strings.TrimSpace(jwt)}
}

// APIKeyCredential builds an API key/secret credential.
func APIKeyCredential(key, secret string) Credential {
	return Credential{
		Type:   CredentialAPIKey,
		Key:    strings.TrimSpace(key),
		Secret: strings.TrimSpace(secret),
	}
}

// Validate checks that exactly the fields of the selected type are set.
func (c Credential) Validate() error {
	switch c.Type {
	case "":
		return ErrNoCredential
	case CredentialJWT:
		if c.JWT == "" {
			return fmt.Errorf("%w: jwt is empty", ErrInvalidCredential)
		}
		if c.Key != "" || c.Secret != "" {
			return fmt.Errorf("%w: jwt credential carries api key fields", ErrInvalidCredential)
		}
	case CredentialAPIKey:
		if c.Key == "" || c.Secret == "" {
			return fmt.Errorf("%w: api key and secret are both required", ErrInvalidCredential)
		}
		if c.JWT != "" {
			return fmt.Errorf("%w: api key credential carries a jwt", ErrInvalidCredential)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCredential, c.Type)
	}
	return nil
}

type loginMessage struct {
	Type   string `json:"type"`
	Params any    `json:"params"`
}

type jwtLoginParams struct {
	JWT string `json:"jwt"`
}

type apiKeyLoginParams struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// LoginMessage returns the text frame a socket sends right after opening.
func (c Credential) LoginMessage() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var msg loginMessage
	switch c.Type {
	case CredentialJWT:
		msg = loginMessage{Type: "Jwt", Params: jwtLoginParams{JWT: c.JWT}}
	case CredentialAPIKey:
		msg = loginMessage{Type: "ApiKeys", Params: apiKeyLoginParams{Key: c.Key, Secret: c.Secret}}
	}
	return json.Marshal(msg)
}

// ApplyHeaders attaches the credential to an HTTP request header set. The
// JWT is sent as-is without a scheme prefix.
func (c Credential) ApplyHeaders(h http.Header) {
	switch c.Type {
	case CredentialJWT:
		h.Set(HeaderAuthorization, c.JWT)
	case CredentialAPIKey:
		h.Set(HeaderAPIKey, c.Key)
		h.Set(HeaderAPISecret, c.Secret)
	}
}

// String redacts secrets so credentials can be logged safely.
func (c Credential) String() string {
	switch c.Type {
	case CredentialJWT:
		return "jwt(***)"
	case CredentialAPIKey:
		return fmt.Sprintf("api-key(%s)", c.Key)
	default:
		return "none"
	}
}

package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/tlswarn"
	"github.com/komodoctl/komodoctl/internal/validate"
)

// ErrNoAddress is returned when no core address has been configured.
var ErrNoAddress = errors.New("config: no core address configured")

// LoadDotEnv loads .env from the working directory. Variables already set
// in the environment win; a missing file is ignored.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Resolve builds the connection profile for name. The profile file is the
// base, and KOMODO_* variables (including those from .env) override it. An
// empty name falls back to KOMODO_PROFILE, then the file's current profile,
// then "default".
func Resolve(name string) (Profile, error) {
	LoadDotEnv()

	file, err := Load()
	if err != nil {
		return Profile{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(os.Getenv(EnvProfile))
	}
	if name == "" && file != nil {
		name = file.Current
	}
	if name == "" {
		name = DefaultProfile
	}

	var profile Profile
	if stored := file.Profile(name); stored != nil {
		profile = *stored
		if stored.TLS != nil {
			tlsCopy := *stored.TLS
			profile.TLS = &tlsCopy
		}
	}
	profile.Name = name

	if err := applyEnv(&profile); err != nil {
		return Profile{}, err
	}
	if err := profile.Validate(); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func applyEnv(p *Profile) error {
	if addr := strings.TrimSpace(os.Getenv(EnvAddress)); addr != "" {
		p.Address = addr
	}

	jwt := strings.TrimSpace(os.Getenv(EnvJWT))
	key := strings.TrimSpace(os.Getenv(EnvAPIKey))
	secret := strings.TrimSpace(os.Getenv(EnvAPISecret))
	switch {
	case jwt != "" && (key != "" || secret != ""):
		return fmt.Errorf("%w: both %s and %s are set", protocol.ErrInvalidCredential, EnvJWT, EnvAPIKey)
	case jwt != "":
		p.Credential = protocol.JWTCredential(jwt)
	case key != "" || secret != "":
		p.Credential = protocol.APIKeyCredential(key, secret)
	}

	insecure := strings.TrimSpace(os.Getenv(EnvTLSInsecure)) == "1"
	caCert := strings.TrimSpace(os.Getenv(EnvTLSCACert))
	serverName := strings.TrimSpace(os.Getenv(EnvTLSServerName))
	if insecure || caCert != "" || serverName != "" {
		if p.TLS == nil {
			p.TLS = &TLSOptions{}
		}
		if insecure {
			p.TLS.Insecure = true
		}
		if caCert != "" {
			p.TLS.CACertPath = caCert
		}
		if serverName != "" {
			p.TLS.ServerName = serverName
		}
	}
	return nil
}

// Validate checks that the profile names a core and a usable credential.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Address) == "" {
		return ErrNoAddress
	}
	if _, err := validate.CoreAddress(p.Address); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return p.Credential.Validate()
}

// TLSConfig builds the TLS configuration for an https core. It returns nil
// for plain http addresses or when no overrides are set.
func (p Profile) TLSConfig() (*tls.Config, error) {
	u, err := url.Parse(p.Address)
	if err != nil {
		return nil, fmt.Errorf("config: parse address: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") || p.TLS == nil {
		return nil, nil
	}

	if p.TLS.Insecure {
		tlswarn.LogInsecure(u.Host)
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	cfg := &tls.Config{}
	if path := ExpandPath(p.TLS.CACertPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read TLS CA cert: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("config: parse TLS CA cert: %s", path)
		}
		cfg.RootCAs = roots
	}
	if p.TLS.ServerName != "" {
		cfg.ServerName = p.TLS.ServerName
	}
	return cfg, nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultProfile = "default"
	configFileName = "config.yaml"
)

// Environment variables read by Resolve.
const (
	EnvAddress       = "KOMODO_ADDRESS"
	EnvJWT           = "KOMODO_JWT"
	EnvAPIKey        = "KOMODO_API_KEY"
	EnvAPISecret     = "KOMODO_API_SECRET"
	EnvTLSInsecure   = "KOMODO_TLS_INSECURE"
	EnvTLSCACert     = "KOMODO_TLS_CA_CERT"
	EnvTLSServerName = "KOMODO_TLS_SERVER_NAME"
	EnvProfile       = "KOMODO_PROFILE"
	EnvConfig        = "KOMODO_CONFIG"
)

// Home returns the komodoctl home directory (~/.komodo).
func Home() string {
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".komodo")
}

// Path returns the profile file location. KOMODO_CONFIG overrides the
// default ~/.komodo/config.yaml.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return ExpandPath(p)
	}
	return filepath.Join(Home(), configFileName)
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

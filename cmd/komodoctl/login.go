package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/komodoctl/komodoctl/internal/client"
	"github.com/komodoctl/komodoctl/internal/config"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/validate"
)

const loginVerifyTimeout = 10 * time.Second

func newLoginCommand() *cobra.Command {
	loginCmd := &cobra.Command{
		Use:           "login",
		Short:         "Store connection details for a Komodo core",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profileLogin,
	}
	loginCmd.Flags().String("url", "", "Core base URL (e.g. https://komodo.example.com)")
	loginCmd.Flags().String("jwt", "", "JWT to store for authenticated access")
	loginCmd.Flags().String("api-key", "", "API key to store (requires --api-secret)")
	loginCmd.Flags().String("api-secret", "", "API secret matching --api-key")
	loginCmd.Flags().String("name", "", "Profile name (defaults to --profile or \"default\")")
	loginCmd.Flags().Bool("show", false, "Display the stored profile")
	loginCmd.Flags().Bool("insecure", false, "Disable TLS verification (dangerous; testing only)")
	loginCmd.Flags().String("ca-cert", "", "Path to custom CA certificate for TLS verification")
	loginCmd.Flags().String("server-name", "", "Override TLS server name (advanced)")
	loginCmd.Flags().Bool("no-verify", false, "Save without checking the credential against the core")
	return loginCmd
}

func newLogoutCommand() *cobra.Command {
	logoutCmd := &cobra.Command{
		Use:           "logout",
		Short:         "Remove a stored profile",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profileLogout,
	}
	logoutCmd.Flags().String("name", "", "Profile to remove (defaults to --profile or the current profile)")
	logoutCmd.Flags().Bool("all", false, "Remove the whole profile file")
	return logoutCmd
}

func profileName(cmd *cobra.Command, file *config.File) string {
	name, _ := cmd.Flags().GetString("name")
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if profile, _ := cmd.Flags().GetString("profile"); strings.TrimSpace(profile) != "" {
		return strings.TrimSpace(profile)
	}
	if file != nil && file.Current != "" {
		return file.Current
	}
	return config.DefaultProfile
}

func profileLogin(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)

	file, err := config.Load()
	if err != nil {
		return out.Error("Failed to read profile file", err)
	}

	show, _ := cmd.Flags().GetBool("show")
	if show {
		return showProfile(out, file, profileName(cmd, file))
	}

	rawURL, _ := cmd.Flags().GetString("url")
	baseURL := strings.TrimSpace(rawURL)
	if baseURL == "" {
		return out.Error("Core URL (--url) is required", nil)
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}
	baseURL, err = validate.CoreAddress(baseURL)
	if err != nil {
		return out.Error("Invalid core URL", err)
	}

	jwt, _ := cmd.Flags().GetString("jwt")
	apiKey, _ := cmd.Flags().GetString("api-key")
	apiSecret, _ := cmd.Flags().GetString("api-secret")
	var credential protocol.Credential
	switch {
	case strings.TrimSpace(jwt) != "" && (apiKey != "" || apiSecret != ""):
		return out.Error("Use either --jwt or --api-key/--api-secret, not both", nil)
	case strings.TrimSpace(jwt) != "":
		credential = protocol.JWTCredential(jwt)
	case apiKey == "" && apiSecret == "":
		return out.Error("One of --jwt or --api-key/--api-secret is required", nil)
	default:
		credential = protocol.APIKeyCredential(apiKey, apiSecret)
	}
	if err := credential.Validate(); err != nil {
		return out.Error("Invalid credential", err)
	}

	insecure, _ := cmd.Flags().GetBool("insecure")
	caCert, _ := cmd.Flags().GetString("ca-cert")
	caCert = strings.TrimSpace(caCert)
	serverName, _ := cmd.Flags().GetString("server-name")
	serverName = strings.TrimSpace(serverName)
	if caCert != "" {
		if _, err := os.Stat(config.ExpandPath(caCert)); err != nil {
			return out.Error("CA certificate not accessible", err)
		}
	}

	profile := config.Profile{
		Name:       profileName(cmd, file),
		Address:    baseURL,
		Credential: credential,
	}
	if insecure || caCert != "" || serverName != "" {
		profile.TLS = &config.TLSOptions{
			Insecure:   insecure,
			CACertPath: caCert,
			ServerName: serverName,
		}
	}

	info := map[string]any{
		"profile": profile.Name,
		"url":     baseURL,
		"auth":    string(credential.Type),
	}

	noVerify, _ := cmd.Flags().GetBool("no-verify")
	if !noVerify {
		coreVersion, err := verifyProfile(profile)
		if err != nil {
			return out.Error("Failed to reach core with these credentials", err)
		}
		info["core_version"] = coreVersion
	}

	if file == nil {
		file = &config.File{}
	}
	file.Set(profile)
	if err := config.Save(file); err != nil {
		return out.Error("Failed to store profile", err)
	}
	info["path"] = config.Path()

	return out.Success(fmt.Sprintf("Profile %q saved", profile.Name), info)
}

// verifyProfile checks the profile by reading the core version.
func verifyProfile(profile config.Profile) (string, error) {
	c, err := client.FromProfile(profile, client.Options{})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), loginVerifyTimeout)
	defer cancel()
	defer c.Close(ctx)
	return c.RPC().CoreVersion(ctx)
}

func showProfile(out *OutputFormatter, file *config.File, name string) error {
	info := map[string]any{
		"path":       config.Path(),
		"configured": false,
		"profile":    name,
	}
	p := file.Profile(name)
	if p != nil {
		info["configured"] = true
		info["url"] = p.Address
		info["auth"] = p.Credential.String()
		if !p.UpdatedAt.IsZero() {
			info["updated_at"] = p.UpdatedAt.Format(time.RFC3339)
		}
		if p.TLS != nil {
			tlsInfo := map[string]any{"insecure": p.TLS.Insecure}
			if p.TLS.CACertPath != "" {
				tlsInfo["ca_cert_path"] = p.TLS.CACertPath
			}
			if p.TLS.ServerName != "" {
				tlsInfo["server_name"] = p.TLS.ServerName
			}
			info["tls"] = tlsInfo
		}
	}
	if file != nil {
		info["profiles"] = file.Names()
	}
	return out.Print(info)
}

func profileLogout(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)

	all, _ := cmd.Flags().GetBool("all")
	if all {
		if err := config.Remove(); err != nil {
			return out.Error("Failed to remove profile file", err)
		}
		return out.Success("All profiles removed", map[string]any{"path": config.Path()})
	}

	file, err := config.Load()
	if err != nil {
		return out.Error("Failed to read profile file", err)
	}
	name := profileName(cmd, file)
	if file == nil || !file.Delete(name) {
		return out.Error(fmt.Sprintf("Profile %q not found", name), nil)
	}
	if err := config.Save(file); err != nil {
		return out.Error("Failed to store profile file", err)
	}
	return out.Success(fmt.Sprintf("Profile %q removed", name), map[string]any{"profile": name})
}

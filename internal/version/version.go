// Package version reports the komodoctl build version and compares it with
// the core it talks to.
package version

import (
	"fmt"
	"regexp"
	"strings"
)

var version = "dev"

// String returns the build version for the current binary.
func String() string {
	return version
}

// ForTesting overrides the version string and returns a cleanup function
// that restores the original value. Must not be called concurrently.
func ForTesting(v string) func() {
	original := version
	version = v
	return func() { version = original }
}

// gitDescribeSuffix matches the trailing "-N-gHASH" added by git describe.
var gitDescribeSuffix = regexp.MustCompile(`-\d+-g[0-9a-f]+$`)

// normalizeVersion strips the "v" prefix and any git-describe suffix so that
// "v1.17.5-5-gabcdef" and "1.17.5" compare as equal.
func normalizeVersion(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	return gitDescribeSuffix.ReplaceAllString(v, "")
}

// series returns the major.minor part of a normalized version, or "" when v
// is not dotted.
func series(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// FormatVersion returns a display-friendly version string. For normal versions
// it ensures a "v" prefix (e.g. "1.17.5" → "v1.17.5"). Special values like
// "dev" and empty strings are returned as-is.
func FormatVersion(v string) string {
	if v == "" || v == "dev" {
		return v
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// CheckVersionMismatch compares the local build version with the version the
// core reports through GetVersion. Cores of the same major.minor series speak
// the same API, so only a series difference produces a warning. An empty
// string is returned when the series match or when either side is a
// development build.
func CheckVersionMismatch(coreVersion string) string {
	client := normalizeVersion(version)
	core := normalizeVersion(coreVersion)
	if client == "" || core == "" || client == "dev" || core == "dev" {
		return ""
	}
	clientSeries, coreSeries := series(client), series(core)
	if clientSeries == "" || coreSeries == "" || clientSeries == coreSeries {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: komodoctl %s talking to Komodo core %s; API %s and %s may differ, upgrade komodoctl to match the core",
		FormatVersion(version), FormatVersion(coreVersion), clientSeries, coreSeries,
	)
}

// Package util provides utility functions for the engine.
//
//revive:disable-next-line:var-naming
package util

import (
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"
)

// EcosystemToPurlType converts an OSV ecosystem to a PURL type
func EcosystemToPurlType(ecosystem string) string {
	mapping := map[string]string{
		"npm":        "npm",
		"PyPI":       "pypi",
		"Maven":      "maven",
		"Go":         "golang",
		"NuGet":      "nuget",
		"RubyGems":   "gem",
		"crates.io":  "cargo",
		"Packagist":  "composer",
		"Alpine":     "apk",
		"Wolfi":      "apk",
		"Chainguard": "apk",
		"Debian":     "deb",
		"Ubuntu":     "deb",
	}

	if purlType, exists := mapping[ecosystem]; exists {
		return purlType
	}
	for key, value := range mapping {
		if strings.EqualFold(key, ecosystem) {
			return value
		}
	}
	return strings.ToLower(ecosystem)
}

// PurlTypeToEcosystem maps a PURL type back to the ecosystem name used by the version parsers
func PurlTypeToEcosystem(purlType string) string {
	switch strings.ToLower(purlType) {
	case "npm":
		return "npm"
	case "pypi":
		return "PyPI"
	case "golang":
		return "Go"
	case "maven":
		return "Maven"
	}
	return purlType
}

// GetBasePURLFromComponents constructs a standardized base PURL from ecosystem and package name
// Example: ("Wolfi", "wolfi", "glibc") -> "pkg:apk/wolfi/glibc"
func GetBasePURLFromComponents(ecosystem, namespace, name string) string {
	purlType := EcosystemToPurlType(ecosystem)
	if namespace != "" {
		return strings.ToLower(fmt.Sprintf("pkg:%s/%s/%s", purlType, namespace, name))
	}
	return strings.ToLower(fmt.Sprintf("pkg:%s/%s", purlType, name))
}

// GetStandardBasePURL extracts a standardized base PURL (no version/qualifiers)
// Example: "pkg:apk/wolfi/glibc@2.42-r4" -> "pkg:apk/wolfi/glibc"
func GetStandardBasePURL(purlStr string) (string, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return "", err
	}

	base := packageurl.PackageURL{
		Type:      EcosystemToPurlType(parsed.Type),
		Namespace: parsed.Namespace,
		Name:      parsed.Name,
	}
	return strings.ToLower(base.ToString()), nil
}

// ParsePURL parses a PURL string and returns the parsed PackageURL
func ParsePURL(purlStr string) (*packageurl.PackageURL, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// InstalledVersion finds the component matching target's base PURL and returns its version.
func InstalledVersion(components []string, target string) (string, bool) {
	want, err := GetStandardBasePURL(target)
	if err != nil {
		return "", false
	}
	for _, c := range components {
		base, err := GetStandardBasePURL(c)
		if err != nil || base != want {
			continue
		}
		parsed, err := packageurl.FromString(c)
		if err != nil {
			continue
		}
		return parsed.Version, true
	}
	return "", false
}

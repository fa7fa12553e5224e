// Package util provides utility functions for version ranges, package URLs,
// CVSS scoring and environment handling.
//
//revive:disable-next-line:var-naming
package util

import (
	"fmt"
	"log"
	"strings"

	"github.com/Masterminds/semver/v3"
	npm "github.com/aquasecurity/go-npm-version/pkg"
	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/google/osv-scanner/pkg/models"
)

// CompareVersions compares a and b with the parser of the given ecosystem.
// It returns -1, 0 or 1. npm and PyPI use their own ordering rules; everything
// else is coerced to semver, with a plain string compare as the last resort.
func CompareVersions(ecosystem, a, b string) (int, error) {
	if a == "0" {
		a = "0.0.0"
	}
	if b == "0" {
		b = "0.0.0"
	}

	switch strings.ToLower(ecosystem) {
	case "npm":
		va, err := npm.NewVersion(a)
		if err != nil {
			return 0, fmt.Errorf("parse npm version %q: %w", a, err)
		}
		vb, err := npm.NewVersion(b)
		if err != nil {
			return 0, fmt.Errorf("parse npm version %q: %w", b, err)
		}
		return ordered(va.LessThan(vb), va.GreaterThan(vb)), nil
	case "pypi":
		va, err := pep440.Parse(a)
		if err != nil {
			return 0, fmt.Errorf("parse python version %q: %w", a, err)
		}
		vb, err := pep440.Parse(b)
		if err != nil {
			return 0, fmt.Errorf("parse python version %q: %w", b, err)
		}
		return ordered(va.LessThan(vb), va.GreaterThan(vb)), nil
	}

	va, errA := semver.NewVersion(strings.TrimPrefix(a, "go"))
	vb, errB := semver.NewVersion(strings.TrimPrefix(b, "go"))
	if errA == nil && errB == nil {
		return va.Compare(vb), nil
	}
	return strings.Compare(a, b), nil
}

func ordered(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// InVersionRange reports whether version lies in [from, until). Empty bounds are open.
func InVersionRange(ecosystem, version, from, until string) (bool, error) {
	if from != "" {
		c, err := CompareVersions(ecosystem, version, from)
		if err != nil {
			return false, err
		}
		if c < 0 {
			return false, nil
		}
	}
	if until != "" {
		c, err := CompareVersions(ecosystem, version, until)
		if err != nil {
			return false, err
		}
		if c >= 0 {
			return false, nil
		}
	}
	return true, nil
}

// IsVersionAffected checks if a version is affected by an OSV affected entry.
// A range needs both a lower bound (introduced) and an upper bound (fixed or
// last_affected); incomplete ranges never match.
func IsVersionAffected(version string, affected models.Affected) bool {
	for _, v := range affected.Versions {
		if version == v {
			return true
		}
	}

	ecosystem := string(affected.Package.Ecosystem)
	for _, vrange := range affected.Ranges {
		if vrange.Type != models.RangeEcosystem && vrange.Type != models.RangeSemVer {
			continue
		}
		if isVersionInRange(version, vrange, ecosystem) {
			return true
		}
	}
	return false
}

// IsVersionAffectedAny checks a version against several affected entries.
func IsVersionAffectedAny(version string, allAffected []models.Affected) bool {
	for _, affected := range allAffected {
		if IsVersionAffected(version, affected) {
			return true
		}
	}
	return false
}

func isVersionInRange(version string, vrange models.Range, ecosystem string) bool {
	var introduced, fixed, lastAffected string
	for _, event := range vrange.Events {
		if event.Introduced != "" {
			introduced = event.Introduced
		}
		if event.Fixed != "" {
			fixed = event.Fixed
		}
		if event.LastAffected != "" {
			lastAffected = event.LastAffected
		}
	}

	if introduced == "" || (fixed == "" && lastAffected == "") {
		log.Printf("WARNING: Incomplete range data for version %s (introduced=%q, fixed=%q, last_affected=%q)",
			version, introduced, fixed, lastAffected)
		return false
	}

	if c, err := CompareVersions(ecosystem, version, introduced); err != nil || c < 0 {
		return false
	}
	if fixed != "" {
		if c, err := CompareVersions(ecosystem, version, fixed); err != nil || c >= 0 {
			return false
		}
	}
	if lastAffected != "" {
		if c, err := CompareVersions(ecosystem, version, lastAffected); err != nil || c > 0 {
			return false
		}
	}
	return true
}

// FixedVersions returns the fixed versions OSV lists for the package named in purlBase.
func FixedVersions(purlBase string, allAffected []models.Affected) []string {
	var out []string
	for _, affected := range allAffected {
		if !affectsPackage(purlBase, affected) {
			continue
		}
		for _, vrange := range affected.Ranges {
			for _, event := range vrange.Events {
				if event.Fixed != "" {
					out = append(out, event.Fixed)
				}
			}
		}
	}
	return out
}

// AffectedFor filters affected entries down to the package named in purlBase.
func AffectedFor(purlBase string, allAffected []models.Affected) []models.Affected {
	var out []models.Affected
	for _, affected := range allAffected {
		if affectsPackage(purlBase, affected) {
			out = append(out, affected)
		}
	}
	return out
}

func affectsPackage(purlBase string, affected models.Affected) bool {
	if affected.Package.Purl != "" {
		if base, err := GetStandardBasePURL(affected.Package.Purl); err == nil {
			return base == purlBase
		}
	}
	return GetBasePURLFromComponents(string(affected.Package.Ecosystem), "", affected.Package.Name) == purlBase ||
		strings.HasSuffix(purlBase, "/"+strings.ToLower(affected.Package.Name))
}

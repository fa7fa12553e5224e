package model

import "time"

// Patch is a catalog entry for a remediation artifact. Only metadata is held here;
// acquisition and signing happen elsewhere.
type Patch struct {
	Key             string     `json:"_key"`
	Name            string     `json:"name"`
	Version         string     `json:"version"`
	Checksum        string     `json:"checksum"`
	PackageURL      string     `json:"purl"`
	Ecosystem       string     `json:"ecosystem,omitempty"`
	CompatibleFrom  string     `json:"compatible_from,omitempty"`  // inclusive lower bound of the installed version
	CompatibleUntil string     `json:"compatible_until,omitempty"` // exclusive upper bound
	DependencyCount int        `json:"dependency_count"`
	RequiresRestart bool       `json:"requires_restart"`
	Signed          bool       `json:"signed"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`

	InstallationsCount int64   `json:"installations_count"`
	SuccessCount       int64   `json:"success_count"`
	FailureCount       int64   `json:"failure_count"`
	RollbackCount      int64   `json:"rollback_count"`
	SuccessRate        float64 `json:"success_rate"`

	ObjType   string    `json:"objtype"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPatch creates a catalog entry with zeroed counters.
func NewPatch(key, name, version string) *Patch {
	now := time.Now().UTC()
	return &Patch{
		Key:       key,
		Name:      name,
		Version:   version,
		ObjType:   "Patch",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply adds d to the counters and recomputes the success rate.
func (p *Patch) Apply(d PatchDelta) {
	p.InstallationsCount += d.Installations
	p.SuccessCount += d.Success
	p.FailureCount += d.Failure
	p.RollbackCount += d.Rollback
	p.SuccessRate = SuccessRate(p.SuccessCount, p.InstallationsCount)
}

// SuccessRate is success/installations, or zero before the first installation.
func SuccessRate(success, installations int64) float64 {
	if installations <= 0 {
		return 0
	}
	return float64(success) / float64(installations)
}

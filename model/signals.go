package model

import (
	"time"

	"github.com/google/osv-scanner/pkg/models"
)

// VulnerabilitySignal is the read-only view of a vulnerability supplied by the
// threat-intelligence collaborator.
type VulnerabilitySignal struct {
	ID             string                `json:"id"`
	OSV            *models.Vulnerability `json:"osv,omitempty"`
	CVSSVector     string                `json:"cvss_vector,omitempty"`
	SeverityRating string                `json:"severity_rating,omitempty"`
	EPSS           *float64              `json:"epss,omitempty"`
	KnownExploited bool                  `json:"known_exploited"`
	PublicExploit  bool                  `json:"public_exploit"`
}

// MaintenanceWindow is a recurring daily window in which changes are preferred.
type MaintenanceWindow struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Location  string `json:"location,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w MaintenanceWindow) Contains(t time.Time) bool {
	if w.Location != "" {
		if loc, err := time.LoadLocation(w.Location); err == nil {
			t = t.In(loc)
		}
	}
	h := t.Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// AssetProfile is the read-only view of an asset supplied by the inventory collaborator.
type AssetProfile struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Environment       string             `json:"environment"`
	Criticality       *float64           `json:"criticality,omitempty"`
	ComplianceScopes  []string           `json:"compliance_scopes,omitempty"`
	Components        []string           `json:"components,omitempty"` // installed package URLs
	SnapshotSupported bool               `json:"snapshot_supported"`
	MaintenanceWindow *MaintenanceWindow `json:"maintenance_window,omitempty"`
}

// Package patches implements the REST handlers for the patch catalog.
package patches

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/restapi/modules/respond"
	"github.com/ortelius/pdvd-remediation/util"
)

// PatchRequest is the body of a catalog upsert. Counters are owned by the
// engine and cannot be set here.
type PatchRequest struct {
	Name            string     `json:"name"`
	Version         string     `json:"version"`
	Checksum        string     `json:"checksum"`
	PackageURL      string     `json:"purl"`
	Ecosystem       string     `json:"ecosystem,omitempty"`
	CompatibleFrom  string     `json:"compatible_from,omitempty"`
	CompatibleUntil string     `json:"compatible_until,omitempty"`
	DependencyCount int        `json:"dependency_count"`
	RequiresRestart bool       `json:"requires_restart"`
	Signed          bool       `json:"signed"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
}

// Build validates the request and returns the catalog entry for key.
func (r PatchRequest) Build(key string) (*model.Patch, string) {
	if key == "" || util.SanitizeKey(key) != key {
		return nil, "patch id must be a valid document key"
	}
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Version) == "" {
		return nil, "name and version are required"
	}

	p := model.NewPatch(key, r.Name, r.Version)
	p.Checksum = r.Checksum
	p.Ecosystem = r.Ecosystem
	p.CompatibleFrom = r.CompatibleFrom
	p.CompatibleUntil = r.CompatibleUntil
	p.DependencyCount = r.DependencyCount
	p.RequiresRestart = r.RequiresRestart
	p.Signed = r.Signed
	p.ReleasedAt = r.ReleasedAt

	if r.PackageURL != "" {
		purl, err := util.ParsePURL(r.PackageURL)
		if err != nil {
			return nil, "invalid purl: " + err.Error()
		}
		p.PackageURL = r.PackageURL
		if p.Ecosystem == "" {
			p.Ecosystem = util.PurlTypeToEcosystem(purl.Type)
		}
	}
	if p.DependencyCount < 0 {
		return nil, "dependency_count must not be negative"
	}
	if p.CompatibleFrom != "" && p.CompatibleUntil != "" {
		cmp, err := util.CompareVersions(p.Ecosystem, p.CompatibleFrom, p.CompatibleUntil)
		if err != nil {
			return nil, "invalid compatibility range: " + err.Error()
		}
		if cmp >= 0 {
			return nil, "compatible_from must be lower than compatible_until"
		}
	}
	return p, ""
}

// UpsertPatch handles PUT /api/v1/patches/:id.
func UpsertPatch(st store.PatchStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req PatchRequest
		if err := c.BodyParser(&req); err != nil {
			return respond.BadRequest(c, "Invalid request body: "+err.Error())
		}
		p, msg := req.Build(c.Params("id"))
		if p == nil {
			return respond.BadRequest(c, msg)
		}

		ctx := c.UserContext()
		if err := st.UpsertPatch(ctx, p); err != nil {
			return respond.Error(c, err)
		}
		stored, err := st.GetPatch(ctx, p.Key)
		if err != nil {
			return respond.Error(c, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"patch":   stored,
		})
	}
}

// GetPatch handles GET /api/v1/patches/:id.
func GetPatch(st store.PatchStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := st.GetPatch(c.UserContext(), c.Params("id"))
		if err != nil {
			return respond.Error(c, err)
		}
		return c.JSON(p)
	}
}

// ListPatches handles GET /api/v1/patches.
func ListPatches(st store.PatchStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ps, err := st.ListPatches(c.UserContext())
		if err != nil {
			return respond.Error(c, err)
		}
		if ps == nil {
			ps = []*model.Patch{}
		}
		return c.JSON(fiber.Map{
			"success": true,
			"count":   len(ps),
			"patches": ps,
		})
	}
}

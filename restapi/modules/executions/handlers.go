// Package executions implements the read-only REST handlers for executions,
// their deployment stages, snapshots and audit chains.
package executions

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/restapi/modules/respond"
)

// AuditService returns verified audit chains.
type AuditService interface {
	ListAuditTrail(ctx context.Context, executionID string) (*model.AuditTrail, error)
}

// Reader is the storage the execution handlers read from.
type Reader interface {
	store.ExecutionStore
	store.StageStore
	store.SnapshotStore
}

// GetExecution handles GET /api/v1/executions/:id.
func GetExecution(st Reader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		exec, err := st.GetExecution(c.UserContext(), c.Params("id"))
		if err != nil {
			return respond.Error(c, err)
		}
		return c.JSON(exec)
	}
}

// ListStages handles GET /api/v1/executions/:id/stages.
func ListStages(st Reader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		id := c.Params("id")
		if _, err := st.GetExecution(ctx, id); err != nil {
			return respond.Error(c, err)
		}
		stages, err := st.ListStagesByExecution(ctx, id)
		if err != nil {
			return respond.Error(c, err)
		}
		if stages == nil {
			stages = []*model.DeploymentStage{}
		}
		return c.JSON(fiber.Map{
			"success":      true,
			"execution_id": id,
			"stages":       stages,
		})
	}
}

// ListSnapshots handles GET /api/v1/executions/:id/snapshots.
func ListSnapshots(st Reader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		id := c.Params("id")
		if _, err := st.GetExecution(ctx, id); err != nil {
			return respond.Error(c, err)
		}
		snaps, err := st.ListSnapshotsByExecution(ctx, id)
		if err != nil {
			return respond.Error(c, err)
		}
		if snaps == nil {
			snaps = []*model.Snapshot{}
		}
		return c.JSON(fiber.Map{
			"success":      true,
			"execution_id": id,
			"snapshots":    snaps,
		})
	}
}

// GetExecutionAudit handles GET /api/v1/executions/:id/audit.
func GetExecutionAudit(svc AuditService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		trail, err := svc.ListAuditTrail(c.UserContext(), c.Params("id"))
		if err != nil {
			return respond.Error(c, err)
		}
		return c.JSON(trail)
	}
}

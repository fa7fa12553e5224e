// Package plans implements the REST handlers for submitting and steering remediation plans.
package plans

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/restapi/modules/auth"
	"github.com/ortelius/pdvd-remediation/restapi/modules/respond"
)

// Service is the part of the coordinator the plan handlers drive.
type Service interface {
	SubmitPlan(ctx context.Context, req model.SubmitPlanRequest) (*model.RemediationPlan, error)
	GetStatus(ctx context.Context, planID string) (*model.PlanStatusView, error)
	Approve(ctx context.Context, planID, approver, code, strategy string) (*model.RemediationPlan, error)
	Reject(ctx context.Context, planID, approver, reason string) (*model.RemediationPlan, error)
	Cancel(ctx context.Context, planID, actor, reason string) error
	ListPlanAuditTrail(ctx context.Context, planID string) (*model.AuditTrail, error)
}

const maxListLimit = 500

// SubmitPlan handles POST /api/v1/plans.
func SubmitPlan(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.SubmitPlanRequest
		if err := c.BodyParser(&req); err != nil {
			return respond.BadRequest(c, "Invalid request body: "+err.Error())
		}
		// The authenticated caller always wins over a self-declared submitter.
		if id, ok := auth.CurrentUser(c); ok {
			req.SubmittedBy = id.Username
		} else if req.SubmittedBy == "" {
			req.SubmittedBy = "api"
		}

		plan, err := svc.SubmitPlan(c.UserContext(), req)
		if err != nil {
			return respond.Error(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success": true,
			"plan_id": plan.Key,
			"status":  plan.Status,
		})
	}
}

// GetPlanStatus handles GET /api/v1/plans/:id.
func GetPlanStatus(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		view, err := svc.GetStatus(c.UserContext(), c.Params("id"))
		if err != nil {
			return respond.Error(c, err)
		}
		return c.JSON(view)
	}
}

// ApprovePlan handles POST /api/v1/plans/:id/approve.
func ApprovePlan(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.ApproveRequest
		if err := c.BodyParser(&req); err != nil {
			return respond.BadRequest(c, "Invalid request body: "+err.Error())
		}
		if strings.TrimSpace(req.ApprovalCode) == "" {
			return respond.BadRequest(c, "approval_code is required")
		}
		approver, _ := auth.CurrentUser(c)

		plan, err := svc.Approve(c.UserContext(), c.Params("id"), approver.Username, req.ApprovalCode, req.Strategy)
		if err != nil {
			return respond.Error(c, err)
		}
		return c.JSON(fiber.Map{
			"success":  true,
			"plan_id":  plan.Key,
			"status":   plan.Status,
			"strategy": plan.EffectiveStrategy(),
		})
	}
}

// RejectPlan handles POST /api/v1/plans/:id/reject.
func RejectPlan(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.ReasonRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return respond.BadRequest(c, "Invalid request body: "+err.Error())
			}
		}
		approver, _ := auth.CurrentUser(c)

		plan, err := svc.Reject(c.UserContext(), c.Params("id"), approver.Username, req.Reason)
		if err != nil {
			return respond.Error(c, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"plan_id": plan.Key,
			"status":  plan.Status,
		})
	}
}

// CancelPlan handles POST /api/v1/plans/:id/cancel.
func CancelPlan(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.ReasonRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return respond.BadRequest(c, "Invalid request body: "+err.Error())
			}
		}
		actor, _ := auth.CurrentUser(c)

		if err := svc.Cancel(c.UserContext(), c.Params("id"), actor.Username, req.Reason); err != nil {
			return respond.Error(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
			"message": "Cancellation requested",
		})
	}
}

// ListPlans handles GET /api/v1/plans?status=&limit=.
func ListPlans(st store.PlanStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter := store.PlanFilter{Limit: c.QueryInt("limit", 100)}
		if filter.Limit <= 0 || filter.Limit > maxListLimit {
			filter.Limit = maxListLimit
		}
		if s := c.Query("status"); s != "" {
			status := model.PlanStatus(strings.ToUpper(s))
			if !status.Valid() {
				return respond.BadRequest(c, "unknown status "+s)
			}
			filter.Status = status
		}

		plans, err := st.ListPlans(c.UserContext(), filter)
		if err != nil {
			return respond.Error(c, err)
		}
		out := make([]*model.RemediationPlan, 0, len(plans))
		for _, p := range plans {
			out = append(out, redact(p))
		}
		return c.JSON(fiber.Map{
			"success": true,
			"count":   len(out),
			"plans":   out,
		})
	}
}

// GetPlanAudit handles GET /api/v1/plans/:id/audit.
func GetPlanAudit(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		trail, err := svc.ListPlanAuditTrail(c.UserContext(), c.Params("id"))
		if err != nil {
			return respond.Error(c, err)
		}
		return c.JSON(trail)
	}
}

// redact strips the approval code hash before a plan leaves the service.
func redact(p *model.RemediationPlan) *model.RemediationPlan {
	c := p.Clone()
	c.ApprovalCodeHash = ""
	return c
}

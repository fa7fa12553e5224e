// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/restapi/modules/auth"
	"github.com/ortelius/pdvd-remediation/restapi/modules/executions"
	"github.com/ortelius/pdvd-remediation/restapi/modules/metrics"
	"github.com/ortelius/pdvd-remediation/restapi/modules/patches"
	"github.com/ortelius/pdvd-remediation/restapi/modules/plans"
)

// Service is the coordinator surface exposed over REST.
type Service interface {
	plans.Service
	executions.AuditService
}

// SetupRoutes configures all REST API routes and the GraphQL endpoint.
func SetupRoutes(app *fiber.App, svc Service, st store.Store, schema graphql.Schema, logger *zap.Logger) {
	// API Group /api/v1
	api := app.Group("/api/v1")

	api.Post("/graphql", auth.OptionalAuth, GraphQLHandler(schema))

	operators := auth.RequireRole(auth.RoleOperator)
	approvers := auth.RequireRole(auth.RoleApprover)
	stewards := auth.RequireRole(auth.RoleOperator, auth.RoleApprover)

	// Plans
	planGroup := api.Group("/plans", auth.RequireAuth)
	planGroup.Get("/", plans.ListPlans(st))
	planGroup.Post("/", operators, plans.SubmitPlan(svc))
	planGroup.Get("/:id", plans.GetPlanStatus(svc))
	planGroup.Get("/:id/audit", plans.GetPlanAudit(svc))
	planGroup.Post("/:id/approve", approvers, plans.ApprovePlan(svc))
	planGroup.Post("/:id/reject", approvers, plans.RejectPlan(svc))
	planGroup.Post("/:id/cancel", stewards, plans.CancelPlan(svc))

	// Executions
	execGroup := api.Group("/executions", auth.RequireAuth)
	execGroup.Get("/:id", executions.GetExecution(st))
	execGroup.Get("/:id/stages", executions.ListStages(st))
	execGroup.Get("/:id/snapshots", executions.ListSnapshots(st))
	execGroup.Get("/:id/audit", executions.GetExecutionAudit(svc))

	// Patch catalog
	patchGroup := api.Group("/patches", auth.RequireAuth)
	patchGroup.Get("/", patches.ListPatches(st))
	patchGroup.Get("/:id", patches.GetPatch(st))
	patchGroup.Put("/:id", operators, patches.UpsertPatch(st))

	api.Get("/metrics/hourly", auth.RequireAuth, metrics.ListHourly(st))

	logger.Info("API routes initialized successfully")
}

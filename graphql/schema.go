// Package graphql assembles the read-only GraphQL schema over plans,
// executions, audit chains, the patch catalog and hourly metrics.
package graphql

import (
	"context"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-remediation/graphql/modules/executions"
	"github.com/ortelius/pdvd-remediation/graphql/modules/metrics"
	"github.com/ortelius/pdvd-remediation/graphql/modules/patches"
	"github.com/ortelius/pdvd-remediation/graphql/modules/plans"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// Service is the coordinator surface the resolvers need.
type Service interface {
	GetStatus(ctx context.Context, planID string) (*model.PlanStatusView, error)
	ListPlanAuditTrail(ctx context.Context, planID string) (*model.AuditTrail, error)
	ListAuditTrail(ctx context.Context, executionID string) (*model.AuditTrail, error)
}

// CreateSchema builds the root query over st and svc.
func CreateSchema(st store.Store, svc Service) (graphql.Schema, error) {
	executionType := executions.NewExecutionType(st, svc)
	planType := plans.NewPlanType(st, svc, executionType)

	fields := graphql.Fields{}
	for _, group := range []graphql.Fields{
		plans.GetQueryFields(st, planType),
		executions.GetQueryFields(st, executionType),
		patches.GetQueryFields(st),
		metrics.GetQueryFields(st),
	} {
		for name, f := range group {
			fields[name] = f
		}
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: fields,
		}),
	})
}

// Package plans defines the GraphQL types and queries for remediation plans.
package plans

import (
	"context"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-remediation/graphql/modules/audit"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// Reader is the storage the plan resolvers read from.
type Reader interface {
	store.PlanStore
	store.ExecutionStore
	store.AssessmentStore
	store.DecisionStore
}

// Service resolves derived plan views.
type Service interface {
	GetStatus(ctx context.Context, planID string) (*model.PlanStatusView, error)
	ListPlanAuditTrail(ctx context.Context, planID string) (*model.AuditTrail, error)
}

// FactorType is one weighted risk factor of an assessment.
var FactorType = graphql.NewObject(graphql.ObjectConfig{
	Name: "RiskFactor",
	Fields: graphql.Fields{
		"name":   &graphql.Field{Type: graphql.String},
		"score":  &graphql.Field{Type: graphql.Float},
		"weight": &graphql.Field{Type: graphql.Float},
	},
})

// AssessmentType is the immutable risk scoring record of a plan.
var AssessmentType = graphql.NewObject(graphql.ObjectConfig{
	Name: "RiskAssessment",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if a, ok := p.Source.(*model.RiskAssessment); ok {
					return a.Key, nil
				}
				return nil, nil
			},
		},
		"vulnerability_id":  &graphql.Field{Type: graphql.String},
		"asset_ids":         &graphql.Field{Type: graphql.NewList(graphql.String)},
		"total_risk_score":  &graphql.Field{Type: graphql.Float},
		"confidence":        &graphql.Field{Type: graphql.Float},
		"proposed_strategy": &graphql.Field{Type: graphql.String},
		"reasoning":         &graphql.Field{Type: graphql.String},
		"model_name":        &graphql.Field{Type: graphql.String},
		"model_version":     &graphql.Field{Type: graphql.String},
		"duration_ms":       &graphql.Field{Type: graphql.Int},
		"created_at":        &graphql.Field{Type: graphql.DateTime},
		"autonomy_level": &graphql.Field{
			Type: graphql.Int,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if a, ok := p.Source.(*model.RiskAssessment); ok {
					return int(a.AutonomyLevel), nil
				}
				return nil, nil
			},
		},
		"factors": &graphql.Field{
			Type: graphql.NewList(FactorType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				a, ok := p.Source.(*model.RiskAssessment)
				if !ok {
					return nil, nil
				}
				var out []map[string]interface{}
				for _, f := range a.Factors.Pairs(a.Weights) {
					row := map[string]interface{}{"name": f.Name, "weight": f.Weight}
					if f.Score != nil {
						row["score"] = *f.Score
					}
					out = append(out, row)
				}
				return out, nil
			},
		},
	},
})

// ProgressType reports how far the current execution has advanced.
var ProgressType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Progress",
	Fields: graphql.Fields{
		"phase":            &graphql.Field{Type: graphql.String},
		"stages_total":     &graphql.Field{Type: graphql.Int},
		"stages_completed": &graphql.Field{Type: graphql.Int},
		"percent":          &graphql.Field{Type: graphql.Int},
	},
})

// NewPlanType builds the RemediationPlan object. The approval code hash is never exposed.
func NewPlanType(st Reader, svc Service, executionType *graphql.Object) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "RemediationPlan",
		Fields: graphql.Fields{
			"key": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if pl, ok := p.Source.(*model.RemediationPlan); ok {
						return pl.Key, nil
					}
					return nil, nil
				},
			},
			"vulnerability_id":    &graphql.Field{Type: graphql.String},
			"asset_ids":           &graphql.Field{Type: graphql.NewList(graphql.String)},
			"patch_id":            &graphql.Field{Type: graphql.String},
			"strategy_hint":       &graphql.Field{Type: graphql.String},
			"priority":            &graphql.Field{Type: graphql.Int},
			"requires_approval":   &graphql.Field{Type: graphql.Boolean},
			"submitted_by":        &graphql.Field{Type: graphql.String},
			"risk_score":          &graphql.Field{Type: graphql.Float},
			"confidence":          &graphql.Field{Type: graphql.Float},
			"proposed_strategy":   &graphql.Field{Type: graphql.String},
			"status":              &graphql.Field{Type: graphql.String},
			"status_reason":       &graphql.Field{Type: graphql.String},
			"approval_status":     &graphql.Field{Type: graphql.String},
			"approval_expires_at": &graphql.Field{Type: graphql.DateTime},
			"approved_by":         &graphql.Field{Type: graphql.String},
			"approved_at":         &graphql.Field{Type: graphql.DateTime},
			"approved_strategy":   &graphql.Field{Type: graphql.String},
			"retry_count":         &graphql.Field{Type: graphql.Int},
			"created_at":          &graphql.Field{Type: graphql.DateTime},
			"updated_at":          &graphql.Field{Type: graphql.DateTime},
			"autonomy_level": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if pl, ok := p.Source.(*model.RemediationPlan); ok {
						return int(pl.AutonomyLevel), nil
					}
					return nil, nil
				},
			},
			"progress": &graphql.Field{
				Type: ProgressType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pl, ok := p.Source.(*model.RemediationPlan)
					if !ok {
						return nil, nil
					}
					view, err := svc.GetStatus(p.Context, pl.Key)
					if err != nil {
						return nil, err
					}
					return view.Progress, nil
				},
			},
			"reasoning": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pl, ok := p.Source.(*model.RemediationPlan)
					if !ok {
						return nil, nil
					}
					view, err := svc.GetStatus(p.Context, pl.Key)
					if err != nil {
						return nil, err
					}
					return view.Reasoning, nil
				},
			},
			"assessment": &graphql.Field{
				Type: AssessmentType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pl, ok := p.Source.(*model.RemediationPlan)
					if !ok || pl.RiskAssessmentID == "" {
						return nil, nil
					}
					return st.GetAssessment(p.Context, pl.RiskAssessmentID)
				},
			},
			"executions": &graphql.Field{
				Type: graphql.NewList(executionType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pl, ok := p.Source.(*model.RemediationPlan)
					if !ok {
						return nil, nil
					}
					return st.ListExecutionsByPlan(p.Context, pl.Key)
				},
			},
			"decisions": &graphql.Field{
				Type: graphql.NewList(audit.DecisionType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pl, ok := p.Source.(*model.RemediationPlan)
					if !ok {
						return nil, nil
					}
					return st.ListDecisionsByPlan(p.Context, pl.Key)
				},
			},
			"audit_trail": &graphql.Field{
				Type: audit.TrailType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pl, ok := p.Source.(*model.RemediationPlan)
					if !ok {
						return nil, nil
					}
					return svc.ListPlanAuditTrail(p.Context, pl.Key)
				},
			},
		},
	})
}

// Package executions defines the GraphQL types and queries for executions,
// their deployment stages and snapshots.
package executions

import (
	"context"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-remediation/graphql/modules/audit"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// Reader is the storage the execution resolvers read from.
type Reader interface {
	store.ExecutionStore
	store.StageStore
	store.SnapshotStore
}

// TrailService returns verified execution audit chains.
type TrailService interface {
	ListAuditTrail(ctx context.Context, executionID string) (*model.AuditTrail, error)
}

// HealthType is the health sample of a stage.
var HealthType = graphql.NewObject(graphql.ObjectConfig{
	Name: "HealthMetrics",
	Fields: graphql.Fields{
		"error_rate":       &graphql.Field{Type: graphql.Float},
		"response_time_ms": &graphql.Field{Type: graphql.Float},
		"success_rate":     &graphql.Field{Type: graphql.Float},
	},
})

// StageType is one deployment stage.
var StageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "DeploymentStage",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if s, ok := p.Source.(*model.DeploymentStage); ok {
					return s.Key, nil
				}
				return nil, nil
			},
		},
		"execution_id":          &graphql.Field{Type: graphql.String},
		"stage_number":          &graphql.Field{Type: graphql.Int},
		"name":                  &graphql.Field{Type: graphql.String},
		"traffic_percentage":    &graphql.Field{Type: graphql.Int},
		"asset_ids":             &graphql.Field{Type: graphql.NewList(graphql.String)},
		"health":                &graphql.Field{Type: HealthType},
		"proceed_to_next_stage": &graphql.Field{Type: graphql.Boolean},
		"abort_reason":          &graphql.Field{Type: graphql.String},
		"status":                &graphql.Field{Type: graphql.String},
		"started_at":            &graphql.Field{Type: graphql.DateTime},
		"completed_at":          &graphql.Field{Type: graphql.DateTime},
	},
})

// SnapshotType is a pre-deployment snapshot.
var SnapshotType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Snapshot",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if s, ok := p.Source.(*model.Snapshot); ok {
					return s.Key, nil
				}
				return nil, nil
			},
		},
		"execution_id":        &graphql.Field{Type: graphql.String},
		"plan_id":             &graphql.Field{Type: graphql.String},
		"asset_ids":           &graphql.Field{Type: graphql.NewList(graphql.String)},
		"type":                &graphql.Field{Type: graphql.String},
		"method":              &graphql.Field{Type: graphql.String},
		"location":            &graphql.Field{Type: graphql.String},
		"size_bytes":          &graphql.Field{Type: graphql.Float},
		"checksum":            &graphql.Field{Type: graphql.String},
		"verified":            &graphql.Field{Type: graphql.Boolean},
		"status":              &graphql.Field{Type: graphql.String},
		"ready_at":            &graphql.Field{Type: graphql.DateTime},
		"expires_at":          &graphql.Field{Type: graphql.DateTime},
		"restored_at":         &graphql.Field{Type: graphql.DateTime},
		"restore_duration_ms": &graphql.Field{Type: graphql.Int},
		"restore_success":     &graphql.Field{Type: graphql.Boolean},
		"failure_reason":      &graphql.Field{Type: graphql.String},
	},
})

// NewExecutionType builds the Execution object, whose nested lists resolve through st.
func NewExecutionType(st Reader, trails TrailService) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Execution",
		Fields: graphql.Fields{
			"key": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if e, ok := p.Source.(*model.Execution); ok {
						return e.Key, nil
					}
					return nil, nil
				},
			},
			"plan_id":          &graphql.Field{Type: graphql.String},
			"patch_id":         &graphql.Field{Type: graphql.String},
			"vulnerability_id": &graphql.Field{Type: graphql.String},
			"asset_ids":        &graphql.Field{Type: graphql.NewList(graphql.String)},
			"status":           &graphql.Field{Type: graphql.String},
			"phase":            &graphql.Field{Type: graphql.String},
			"strategy":         &graphql.Field{Type: graphql.String},
			"autonomy_level": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if e, ok := p.Source.(*model.Execution); ok {
						return int(e.AutonomyLevel), nil
					}
					return nil, nil
				},
			},
			"human_override":       &graphql.Field{Type: graphql.Boolean},
			"retry_count":          &graphql.Field{Type: graphql.Int},
			"max_retries":          &graphql.Field{Type: graphql.Int},
			"snapshot_id":          &graphql.Field{Type: graphql.String},
			"deployed":             &graphql.Field{Type: graphql.Boolean},
			"stages_total":         &graphql.Field{Type: graphql.Int},
			"stages_completed":     &graphql.Field{Type: graphql.Int},
			"risk_analysis_ms":     &graphql.Field{Type: graphql.Int},
			"sandbox_ms":           &graphql.Field{Type: graphql.Int},
			"deployment_ms":        &graphql.Field{Type: graphql.Int},
			"monitoring_ms":        &graphql.Field{Type: graphql.Int},
			"total_ms":             &graphql.Field{Type: graphql.Int},
			"sandbox_passed":       &graphql.Field{Type: graphql.Boolean},
			"tests_run":            &graphql.Field{Type: graphql.Int},
			"tests_passed":         &graphql.Field{Type: graphql.Int},
			"tests_failed":         &graphql.Field{Type: graphql.Int},
			"performance_score":    &graphql.Field{Type: graphql.Float},
			"rollback_performed":   &graphql.Field{Type: graphql.Boolean},
			"rollback_reason":      &graphql.Field{Type: graphql.String},
			"rollback_duration_ms": &graphql.Field{Type: graphql.Int},
			"rollback_success":     &graphql.Field{Type: graphql.Boolean},
			"escalated":            &graphql.Field{Type: graphql.Boolean},
			"error_kind":           &graphql.Field{Type: graphql.String},
			"error_message":        &graphql.Field{Type: graphql.String},
			"retryable":            &graphql.Field{Type: graphql.Boolean},
			"started_at":           &graphql.Field{Type: graphql.DateTime},
			"completed_at":         &graphql.Field{Type: graphql.DateTime},
			"created_at":           &graphql.Field{Type: graphql.DateTime},
			"stages": &graphql.Field{
				Type: graphql.NewList(StageType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					e, ok := p.Source.(*model.Execution)
					if !ok {
						return nil, nil
					}
					return st.ListStagesByExecution(p.Context, e.Key)
				},
			},
			"snapshots": &graphql.Field{
				Type: graphql.NewList(SnapshotType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					e, ok := p.Source.(*model.Execution)
					if !ok {
						return nil, nil
					}
					return st.ListSnapshotsByExecution(p.Context, e.Key)
				},
			},
			"audit_trail": &graphql.Field{
				Type: audit.TrailType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					e, ok := p.Source.(*model.Execution)
					if !ok {
						return nil, nil
					}
					return trails.ListAuditTrail(p.Context, e.Key)
				},
			},
		},
	})
}

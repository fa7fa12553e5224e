// Package metrics defines the GraphQL type and query for hourly remediation rollups.
package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// LevelCountType is the number of executions at one autonomy level.
var LevelCountType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AutonomyLevelCount",
	Fields: graphql.Fields{
		"level": &graphql.Field{Type: graphql.Int},
		"count": &graphql.Field{Type: graphql.Int},
	},
})

// BucketType is one hourly rollup.
var BucketType = graphql.NewObject(graphql.ObjectConfig{
	Name: "MetricsBucket",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b, ok := p.Source.(*model.MetricsBucket); ok {
					return b.Key, nil
				}
				return nil, nil
			},
		},
		"date":                 &graphql.Field{Type: graphql.String},
		"hour":                 &graphql.Field{Type: graphql.Int},
		"volume":               &graphql.Field{Type: graphql.Int},
		"success_count":        &graphql.Field{Type: graphql.Int},
		"failure_count":        &graphql.Field{Type: graphql.Int},
		"rolled_back_count":    &graphql.Field{Type: graphql.Int},
		"timeout_count":        &graphql.Field{Type: graphql.Int},
		"cancelled_count":      &graphql.Field{Type: graphql.Int},
		"rollbacks_performed":  &graphql.Field{Type: graphql.Int},
		"success_rate":         &graphql.Field{Type: graphql.Float},
		"p50_total_ms":         &graphql.Field{Type: graphql.Int},
		"p90_total_ms":         &graphql.Field{Type: graphql.Int},
		"p99_total_ms":         &graphql.Field{Type: graphql.Int},
		"avg_risk_analysis_ms": &graphql.Field{Type: graphql.Int},
		"avg_sandbox_ms":       &graphql.Field{Type: graphql.Int},
		"avg_deployment_ms":    &graphql.Field{Type: graphql.Int},
		"avg_monitoring_ms":    &graphql.Field{Type: graphql.Int},
		"human_override_count": &graphql.Field{Type: graphql.Int},
		"by_autonomy_level": &graphql.Field{
			Type: graphql.NewList(LevelCountType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				b, ok := p.Source.(*model.MetricsBucket)
				if !ok {
					return nil, nil
				}
				var out []map[string]interface{}
				for k, n := range b.ByAutonomyLevel {
					level, err := strconv.Atoi(k)
					if err != nil {
						continue
					}
					out = append(out, map[string]interface{}{"level": level, "count": n})
				}
				sort.Slice(out, func(i, j int) bool { return out[i]["level"].(int) < out[j]["level"].(int) })
				return out, nil
			},
		},
	},
})

// GetQueryFields returns the metrics query to be mounted in the root schema.
func GetQueryFields(st store.MetricsStore) graphql.Fields {
	return graphql.Fields{
		"hourlyMetrics": &graphql.Field{
			Type: graphql.NewList(BucketType),
			Args: graphql.FieldConfigArgument{
				"from": &graphql.ArgumentConfig{Type: graphql.String},
				"to":   &graphql.ArgumentConfig{Type: graphql.String},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				to := time.Now().UTC()
				if s, ok := p.Args["to"].(string); ok && s != "" {
					t, err := time.Parse(time.RFC3339, s)
					if err != nil {
						return nil, fmt.Errorf("invalid to: %w", err)
					}
					to = t.UTC()
				}
				from := to.Add(-24 * time.Hour)
				if s, ok := p.Args["from"].(string); ok && s != "" {
					t, err := time.Parse(time.RFC3339, s)
					if err != nil {
						return nil, fmt.Errorf("invalid from: %w", err)
					}
					from = t.UTC()
				}
				return st.ListMetricsBuckets(p.Context, from, to)
			},
		},
	}
}

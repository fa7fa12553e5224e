// Package audit defines the GraphQL types for audit chains and decisions.
package audit

import (
	"sort"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-remediation/model"
)

// DetailType is one key/value pair of an entry's details.
var DetailType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AuditDetail",
	Fields: graphql.Fields{
		"key":   &graphql.Field{Type: graphql.String},
		"value": &graphql.Field{Type: graphql.String},
	},
})

// EntryType is one hash-chained audit entry.
var EntryType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AuditEntry",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if e, ok := p.Source.(*model.AuditLogEntry); ok {
					return e.Key, nil
				}
				return nil, nil
			},
		},
		"chain_id":     &graphql.Field{Type: graphql.String},
		"sequence":     &graphql.Field{Type: graphql.Int},
		"plan_id":      &graphql.Field{Type: graphql.String},
		"execution_id": &graphql.Field{Type: graphql.String},
		"actor_type":   &graphql.Field{Type: graphql.String},
		"actor_id":     &graphql.Field{Type: graphql.String},
		"category":     &graphql.Field{Type: graphql.String},
		"severity":     &graphql.Field{Type: graphql.String},
		"prior_status": &graphql.Field{Type: graphql.String},
		"new_status":   &graphql.Field{Type: graphql.String},
		"message":      &graphql.Field{Type: graphql.String},
		"timestamp":    &graphql.Field{Type: graphql.DateTime},
		"prev_hash":    &graphql.Field{Type: graphql.String},
		"entry_hash":   &graphql.Field{Type: graphql.String},
		"details": &graphql.Field{
			Type: graphql.NewList(DetailType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				e, ok := p.Source.(*model.AuditLogEntry)
				if !ok {
					return nil, nil
				}
				keys := make([]string, 0, len(e.Details))
				for k := range e.Details {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				out := make([]map[string]interface{}, 0, len(keys))
				for _, k := range keys {
					out = append(out, map[string]interface{}{"key": k, "value": e.Details[k]})
				}
				return out, nil
			},
		},
	},
})

// TrailType is a chain together with the result of verifying it.
var TrailType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AuditTrail",
	Fields: graphql.Fields{
		"chain_id":        &graphql.Field{Type: graphql.String},
		"entries":         &graphql.Field{Type: graphql.NewList(EntryType)},
		"tamper_detected": &graphql.Field{Type: graphql.Boolean},
		"broken_at":       &graphql.Field{Type: graphql.Int},
		"reason":          &graphql.Field{Type: graphql.String},
	},
})

// DecisionType is an automated decision or a human correction of one.
var DecisionType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AutonomousDecision",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if d, ok := p.Source.(*model.AutonomousDecision); ok {
					return d.Key, nil
				}
				return nil, nil
			},
		},
		"plan_id":        &graphql.Field{Type: graphql.String},
		"execution_id":   &graphql.Field{Type: graphql.String},
		"decision_type":  &graphql.Field{Type: graphql.String},
		"model_name":     &graphql.Field{Type: graphql.String},
		"model_version":  &graphql.Field{Type: graphql.String},
		"outcome":        &graphql.Field{Type: graphql.String},
		"confidence":     &graphql.Field{Type: graphql.Float},
		"reasoning":      &graphql.Field{Type: graphql.String},
		"human_decision": &graphql.Field{Type: graphql.String},
		"decided_by":     &graphql.Field{Type: graphql.String},
		"supersedes":     &graphql.Field{Type: graphql.String},
		"created_at":     &graphql.Field{Type: graphql.DateTime},
	},
})

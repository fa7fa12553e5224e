// Package patches defines the GraphQL type and queries for the patch catalog.
package patches

import (
	"errors"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// PatchType is a catalog entry with its outcome counters.
var PatchType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Patch",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if pt, ok := p.Source.(*model.Patch); ok {
					return pt.Key, nil
				}
				return nil, nil
			},
		},
		"name":                &graphql.Field{Type: graphql.String},
		"version":             &graphql.Field{Type: graphql.String},
		"checksum":            &graphql.Field{Type: graphql.String},
		"purl":                &graphql.Field{Type: graphql.String},
		"ecosystem":           &graphql.Field{Type: graphql.String},
		"compatible_from":     &graphql.Field{Type: graphql.String},
		"compatible_until":    &graphql.Field{Type: graphql.String},
		"dependency_count":    &graphql.Field{Type: graphql.Int},
		"requires_restart":    &graphql.Field{Type: graphql.Boolean},
		"signed":              &graphql.Field{Type: graphql.Boolean},
		"released_at":         &graphql.Field{Type: graphql.DateTime},
		"installations_count": &graphql.Field{Type: graphql.Int},
		"success_count":       &graphql.Field{Type: graphql.Int},
		"failure_count":       &graphql.Field{Type: graphql.Int},
		"rollback_count":      &graphql.Field{Type: graphql.Int},
		"success_rate":        &graphql.Field{Type: graphql.Float},
		"updated_at":          &graphql.Field{Type: graphql.DateTime},
	},
})

// GetQueryFields returns the patch queries to be mounted in the root schema.
func GetQueryFields(st store.PatchStore) graphql.Fields {
	return graphql.Fields{
		"patch": &graphql.Field{
			Type: PatchType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				pt, err := st.GetPatch(p.Context, p.Args["id"].(string))
				if errors.Is(err, store.ErrNotFound) {
					return nil, nil
				}
				return pt, err
			},
		},
		"patches": &graphql.Field{
			Type: graphql.NewList(PatchType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return st.ListPatches(p.Context)
			},
		},
	}
}

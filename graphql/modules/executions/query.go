package executions

import (
	"errors"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/restapi/modules/auth"
)

// GetQueryFields returns the execution queries to be mounted in the root schema.
func GetQueryFields(st Reader, executionType *graphql.Object) graphql.Fields {
	return graphql.Fields{
		"execution": &graphql.Field{
			Type: executionType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if _, ok := auth.UserFromContext(p.Context); !ok {
					return nil, errors.New("authentication required")
				}
				exec, err := st.GetExecution(p.Context, p.Args["id"].(string))
				if errors.Is(err, store.ErrNotFound) {
					return nil, nil
				}
				return exec, err
			},
		},
	}
}

package plans

import (
	"errors"
	"strings"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/restapi/modules/auth"
)

// PlanStatusEnum lists the plan lifecycle states.
var PlanStatusEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "PlanStatus",
	Values: graphql.EnumValueConfigMap{
		string(model.PlanPending):    &graphql.EnumValueConfig{Value: string(model.PlanPending)},
		string(model.PlanApproved):   &graphql.EnumValueConfig{Value: string(model.PlanApproved)},
		string(model.PlanInProgress): &graphql.EnumValueConfig{Value: string(model.PlanInProgress)},
		string(model.PlanSuccess):    &graphql.EnumValueConfig{Value: string(model.PlanSuccess)},
		string(model.PlanFailed):     &graphql.EnumValueConfig{Value: string(model.PlanFailed)},
		string(model.PlanRolledBack): &graphql.EnumValueConfig{Value: string(model.PlanRolledBack)},
		string(model.PlanCancelled):  &graphql.EnumValueConfig{Value: string(model.PlanCancelled)},
	},
})

// GetQueryFields returns the plan queries to be mounted in the root schema.
func GetQueryFields(st Reader, planType *graphql.Object) graphql.Fields {
	return graphql.Fields{
		"plan": &graphql.Field{
			Type: planType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if _, ok := auth.UserFromContext(p.Context); !ok {
					return nil, errors.New("authentication required")
				}
				plan, err := st.GetPlan(p.Context, p.Args["id"].(string))
				if errors.Is(err, store.ErrNotFound) {
					return nil, nil
				}
				return plan, err
			},
		},
		"plans": &graphql.Field{
			Type: graphql.NewList(planType),
			Args: graphql.FieldConfigArgument{
				"status": &graphql.ArgumentConfig{Type: PlanStatusEnum},
				"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 100},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if _, ok := auth.UserFromContext(p.Context); !ok {
					return nil, errors.New("authentication required")
				}
				filter := store.PlanFilter{Limit: p.Args["limit"].(int)}
				if s, ok := p.Args["status"].(string); ok {
					filter.Status = model.PlanStatus(strings.ToUpper(s))
				}
				return st.ListPlans(p.Context, filter)
			},
		},
	}
}

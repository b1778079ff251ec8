package auth

const (
	RouteTruthTest  = "/truth-test"
	RouteDashboard  = "/dashboard"
	RouteCoupleMode = "/couple-mode"
)

// RoutingPolicy picks the post-login destination for a plan.
type RoutingPolicy func(plan Plan) string

// RouteForPlan is the default RoutingPolicy. Unknown plans route like free.
func RouteForPlan(plan Plan) string {
	switch plan {
	case PlanPro, PlanPremium:
		return RouteDashboard
	case PlanCouple:
		return RouteCoupleMode
	default:
		return RouteTruthTest
	}
}

var routeAccess = map[string]map[Plan]struct{}{
	RouteDashboard: {
		PlanPro:        {},
		PlanPremium:    {},
		PlanCouple:     {},
		PlanEnterprise: {},
	},
	RouteCoupleMode: {
		PlanCouple:     {},
		PlanPremium:    {},
		PlanEnterprise: {},
	},
}

// CanAccess reports whether plan includes route. Routes without a gate,
// including the truth test, are open to every plan.
func CanAccess(plan Plan, route string) bool {
	allowed, gated := routeAccess[route]
	if !gated {
		return true
	}
	_, ok := allowed[plan]
	return ok
}

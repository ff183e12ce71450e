package authz

// routeGuard is the static route-to-required-permissions table. A known route
// grants access when the actor holds any listed permission; unknown routes
// are permitted.
var routeGuard = map[string][]Permission{
	"/admin":            {PermAdmin},
	"/review":           {PermReview, PermApprove},
	"/applications":     {PermRead},
	"/applications/new": {PermCreate},
	"/dashboard":        {PermRead},
	"/reports":          {PermReview, PermAdmin},
}

// CanAccessRoute evaluates the route guard for the actor.
func CanAccessRoute(a Actor, route string) bool {
	required, known := routeGuard[route]
	if !known {
		return true
	}
	if !a.Authenticated {
		return false
	}
	return HasAnyPermission(a, required...)
}

// GuardedRoutes returns the routes the guard knows about, with the actor's
// current access to each. Used by the /me endpoint.
func GuardedRoutes(a Actor) map[string]bool {
	out := make(map[string]bool, len(routeGuard))
	for route := range routeGuard {
		out[route] = CanAccessRoute(a, route)
	}
	return out
}

package server

// Route path constants
const (
	// Identity routes
	RouteFailure = "/auth/failure"
	RouteSignOut = "/auth/logout"

	// API routes
	RouteMe = "/me"

	// Admin routes
	RouteAdminIdentity = "/admin/identity"
)

package server

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteMe, ChainMiddleware(s.MeHandler(), s.HTMLMiddleWare(s.RequireUser)...))
	s.RegisterRouteHandler("GET "+RouteAdminIdentity, ChainMiddleware(s.AdminIdentityHandler(), s.HTMLMiddleWare(s.RequireAdmin)...))
	s.RegisterRouteHandler("GET "+RouteFailure, ChainMiddleware(s.FailureHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteSignOut, ChainMiddleware(s.SignOutHandler(), s.HTMLMiddleWare()...))
}

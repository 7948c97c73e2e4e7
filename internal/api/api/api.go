package api

import (
	"github.com/gin-contrib/cors"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"infothon/cmd/middleware"
	"infothon/internal/auth"
	"infothon/internal/identity"
	"infothon/internal/service"
)

type Routers struct {
	Service service.Service
	Users   identity.Gateway
	Issuer  *auth.Issuer
	Log     *zerolog.Logger
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware(r.Log))
	app.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	app.GET("/healthz", r.Service.Health)

	apiGroup := app.Group("/v1")
	apiGroup.GET("/events", r.Service.ListEvents)
	apiGroup.GET("/events/:id", r.Service.GetEvent)
	apiGroup.POST("/cart/quote", r.Service.Quote)

	user := apiGroup.Group("", auth.UserAuth(r.Users))
	user.GET("/cart", r.Service.GetCart)
	user.PUT("/cart", r.Service.PutCart)
	user.DELETE("/cart", r.Service.ClearCart)
	user.POST("/checkout", r.Service.StartCheckout)
	user.POST("/checkout/:session/confirm", r.Service.ConfirmCheckout)
	user.POST("/teams", r.Service.StartTeam)
	user.POST("/teams/:session/confirm", r.Service.ConfirmTeam)
	user.GET("/me/events", r.Service.MyEvents)
	user.GET("/me/tickets", r.Service.MyTickets)
	user.GET("/me/tickets/:id/qr", r.Service.TicketQR)

	apiGroup.POST("/admin/login", r.Service.AdminLogin)
	admin := apiGroup.Group("/admin", auth.JWTAuth(r.Issuer), auth.RequireRole(auth.RoleAdmin))
	admin.POST("/scan", r.Service.Scan)
	admin.GET("/tickets/:id", r.Service.LookupTicket)
	admin.POST("/tickets/:id/checkin", r.Service.CheckIn)
	admin.POST("/tickets/:id/members/:slot/checkin", r.Service.CheckInMember)
	admin.GET("/registrations.csv", r.Service.ExportRegistrations)

	return app
}

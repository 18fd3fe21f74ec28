package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router installs a set of routes on the app
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter wires all route groups into the app
func InstallRouter(app *fiber.App, deps *Dependencies) {
	setup(app, NewAPIRouter(deps))
}

func setup(app *fiber.App, routers ...Router) {
	for _, r := range routers {
		r.InstallRouter(app)
	}
}

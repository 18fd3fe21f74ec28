package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/deskrelay/deskrelay/app/repository"
	"github.com/deskrelay/deskrelay/internal/pkg/cache"
	"github.com/deskrelay/deskrelay/internal/pkg/channel"
	"github.com/deskrelay/deskrelay/internal/pkg/database"
	"github.com/deskrelay/deskrelay/internal/pkg/distribution"
	"github.com/deskrelay/deskrelay/internal/pkg/env"
	"github.com/deskrelay/deskrelay/internal/pkg/idempotency"
	"github.com/deskrelay/deskrelay/internal/pkg/jobqueue"
	"github.com/deskrelay/deskrelay/internal/pkg/mail"
	"github.com/deskrelay/deskrelay/internal/pkg/pipeline"
	"github.com/deskrelay/deskrelay/internal/pkg/router"
	"github.com/deskrelay/deskrelay/internal/pkg/sla"
	"github.com/deskrelay/deskrelay/internal/pkg/ticketing"
)

func main() {
	app, manager := NewApplication()

	manager.Start()
	defer manager.Stop()

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

// NewApplication assembles the fiber app and the job queue manager
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	// Pipeline assembly: gate, queues, distribution, SLA, ticketing
	gate := idempotency.NewGate(cache.GetClient())
	inboundQ := jobqueue.NewQueue("inbound", env.GetEnvInt("INBOUND_WORKERS", 5))
	outboundQ := jobqueue.NewQueue("outbound", env.GetEnvInt("OUTBOUND_WORKERS", 3))
	engine := distribution.NewEngine(repos)

	// Breach notifications go out by mail when SLA_BREACH_EMAIL is set,
	// otherwise they only land in the log
	var notifier sla.BreachNotifier
	if mailer := mail.NewBreachMailer(); mailer != nil {
		notifier = mailer
	}
	tracker := sla.NewTracker(repos, notifier)

	pipe := pipeline.New(repos, gate, inboundQ, outboundQ, channel.LogClient{})
	tickets := ticketing.NewService(repos, engine, tracker, pipe)
	pipe.SetTicketing(tickets)
	pipe.RegisterHandlers()

	manager := jobqueue.NewManager(inboundQ, outboundQ, repos, engine, tracker)
	jobqueue.InitializeManager(manager)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "deskrelay",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app, &router.Dependencies{
		Repos:   repos,
		Pipe:    pipe,
		Tickets: tickets,
		Engine:  engine,
		Manager: manager,
	})

	return app, manager
}

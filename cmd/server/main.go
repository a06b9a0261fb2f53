package main

import (
	"log"

	"github.com/bizpilot/convocore/internal/config"
	"github.com/bizpilot/convocore/internal/db"
	"github.com/bizpilot/convocore/internal/events"
	"github.com/bizpilot/convocore/internal/facts"
	"github.com/bizpilot/convocore/internal/httpapi"
	"github.com/bizpilot/convocore/internal/runtime"
	"github.com/bizpilot/convocore/internal/session"
	"github.com/bizpilot/convocore/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	var tokens runtime.TokenSource
	if cfg.RuntimeClientSecret != "" {
		tokens = runtime.NewExchangeTokenSource(cfg.RuntimeAuthURL, cfg.RuntimeClientID, cfg.RuntimeClientSecret, rds)
	} else {
		tokens = &runtime.StaticTokenSource{Value: cfg.RuntimeStaticToken}
	}

	gateway := runtime.NewHTTPGateway(cfg.RuntimeBaseURL, tokens)
	gateway.CreateTimeout = cfg.RuntimeCreateTimeout
	gateway.TurnTimeout = cfg.RuntimeTurnTimeout

	store := session.NewStore(gdb, cfg.SessionFreshnessWindow)
	appender := session.NewAppender(store)
	factsRepo := facts.NewRepo(gdb)
	recoverer := session.NewRecoverer(store, gateway, factsRepo, cfg.RecoveryTailSize)

	var publisher session.EventPublisher
	pub, err := events.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		// the event feed is fire-and-forget; run without it
		log.Printf("rabbit unavailable, events disabled: %v", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	svc := session.NewService(store, appender, gateway, recoverer, publisher)

	r := httpapi.NewRouter(cfg, svc)
	log.Printf("server listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

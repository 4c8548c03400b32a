package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fossabot/authrim-sub000/internal/api"
	"github.com/fossabot/authrim-sub000/internal/config"
	"github.com/fossabot/authrim-sub000/internal/events"
	"github.com/fossabot/authrim-sub000/internal/executor"
	"github.com/fossabot/authrim-sub000/internal/flow"
	"github.com/fossabot/authrim-sub000/internal/kv"
	"github.com/fossabot/authrim-sub000/internal/metrics"
	"github.com/fossabot/authrim-sub000/internal/state"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	log.Printf("Starting flow engine (env=%s)", cfg.Server.Env)

	// Key/value backing: Redis when reachable, in-memory otherwise.
	var store kv.Store
	addr := cfg.Redis.Addr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		rs, rerr := kv.NewRedisStore(addr, cfg.Redis.Password, cfg.Redis.DB)
		if rerr != nil {
			log.Printf("Redis unavailable, using in-memory store: %v", rerr)
		} else {
			store = rs
			defer rs.Close()
		}
	}
	if store == nil {
		ms := kv.NewMemoryStore()
		defer ms.Close()
		store = ms
	}

	// Event pipeline.
	before := events.NewBeforeHookRegistry()
	after := events.NewAfterHookRegistry()
	handlers := events.NewHandlerRegistry()
	dispatcher := events.NewDispatcher(before, after, handlers, events.NewKVDedup(store), events.DispatcherConfig{
		BeforeTimeout: time.Duration(cfg.Hooks.BeforeTimeoutMs) * time.Millisecond,
		AfterTimeout:  time.Duration(cfg.Hooks.AfterTimeoutMs) * time.Millisecond,
		DedupTTL:      time.Duration(cfg.Events.DedupTTLMs) * time.Millisecond,
	})

	// Session state and the executor on top of it.
	sessions := state.NewStore(cfg.Flow.ShardCount, cfg.Flow.MaxProcessedRequestIDs)
	defer sessions.Close()

	registry := flow.NewRegistry(store)
	if err := registry.RegisterBuiltin("login", loginFlow()); err != nil {
		log.Fatalf("Built-in flow registration failed: %v", err)
	}

	m := metrics.New()
	exec := executor.New(registry, sessions, dispatcher, cfg.Flow, m)

	server := api.NewServer(exec, dispatcher, before, after)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Port)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case sig := <-stop:
		log.Printf("Shutting down on %s", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}
}

// loginFlow is the default built-in flow: a single identification step.
// Tenants override it with their own definitions via the registry.
func loginFlow() *flow.Definition {
	return &flow.Definition{
		ID:          "builtin-login",
		FlowVersion: 1,
		ProfileID:   "default",
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{
				ID:   "identify",
				Type: flow.NodeCapability,
				Capability: &flow.CapabilityTemplate{
					CapabilityID: "identifier_email",
					Intent:       "authenticate",
					Policy:       "default",
					AuthMethods:  []string{"password", "passkey"},
				},
			},
			{ID: "done", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{SourceNodeID: "start", TargetNodeID: "identify"},
			{SourceNodeID: "identify", TargetNodeID: "done", AfterEvent: "flow.login.identified"},
		},
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/broker"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/logger"
	"chat-realtime/internal/messaging"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

type stores struct {
	convs    repositories.ConversationRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	db       *sqlx.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info").Fatal("invalid configuration", zap.Error(err))
	}
	log := logger.Init(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("failed to init tracing", zap.Error(err))
	}

	st, err := openStores(cfg)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	if st.db != nil {
		defer st.db.Close()
	}

	var redisClient *redis.Client
	if cfg.RegistryBackend == config.BackendRedis || cfg.PresenceBackend == config.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer redisClient.Close()
	}

	bus, err := openBroker(cfg, redisClient)
	if err != nil {
		log.Fatal("failed to open registry broker", zap.String("backend", cfg.RegistryBackend), zap.Error(err))
	}

	var counter presence.Counter = presence.NewMemoryCounter()
	if cfg.PresenceBackend == config.BackendRedis {
		counter = presence.NewRedisCounter(redisClient, cfg.PresenceTTL)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment)
	log.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTAlg)
	if err != nil {
		log.Fatal("failed to build token verifier", zap.Error(err))
	}

	rt := cfg.Realtime
	hub := ws.NewHub(bus)
	tracker := presence.NewTracker(counter, st.users, hub)
	pipeline := messaging.NewPipeline(st.convs, st.messages, hub, rt.MaxContentLength)
	typing := messaging.NewTypingRelay(st.convs, hub, rt.TypingMinInterval, rt.TypingTTL)
	receipts := messaging.NewReceiptCoordinator(st.convs, st.messages, hub)
	dispatcher := ws.NewDispatcher(pipeline, typing, receipts, auditEmitter, rt.MalformedFrameLimit)
	manager := ws.NewManager(verifier, st.users, st.convs, hub, tracker, typing, rt)

	chatWS := ws.NewChatWebSocketHandler(ctx, manager, dispatcher, rt)
	conversationHandler := handlers.NewConversationHandler(receipts, st.users)
	presenceHandler := handlers.NewPresenceHandler(tracker)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/healthz", handlers.Health(pinger(st.db)))
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	router.GET("/presence/:user_id", authMiddleware, presenceHandler.Get)
	router.GET("/conversations/:id/unread", authMiddleware, conversationHandler.Unread)
	router.POST("/conversations/:id/read", authMiddleware, conversationHandler.MarkRead)

	router.GET("/ws", chatWS.Handle)
	router.GET("/ws/conversations/:conversation_id", chatWS.HandleConversation)

	handlers.RegisterDebugRoutes(router, auditEmitter, hub, manager, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// the broker feed must be attached before the first session can publish
	if err := hub.Start(ctx); err != nil {
		log.Fatal("failed to attach registry broker", zap.String("backend", cfg.RegistryBackend), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("chat realtime listening",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreBackend),
			zap.String("registry", cfg.RegistryBackend),
			zap.String("presence", cfg.PresenceBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		manager.Shutdown()
		if bus != nil {
			_ = bus.Close()
		}
		if tracerErr := shutdownTracer(shutdownCtx); tracerErr != nil {
			log.Warn("tracer shutdown failed", zap.Error(tracerErr))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
	}
}

func openStores(cfg *config.Config) (stores, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger.Log.Warn("using in-memory store, data is lost on restart")
		mem := repositories.NewMemoryStore()
		if cfg.MemorySeedFile == "" {
			logger.Log.Warn("memory store starts empty, set MEMORY_SEED_FILE to load users and conversations")
		} else {
			seed, err := repositories.LoadSeed(cfg.MemorySeedFile)
			if err != nil {
				return stores{}, err
			}
			if err := mem.ApplySeed(seed); err != nil {
				return stores{}, err
			}
			logger.Log.Info("memory store seeded",
				zap.String("file", cfg.MemorySeedFile),
				zap.Int("users", len(seed.Users)),
				zap.Int("conversations", len(seed.Conversations)))
		}
		return stores{convs: mem, messages: mem, users: mem}, nil
	}
	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return stores{}, err
	}
	return stores{
		convs:    repositories.NewConversationRepo(database),
		messages: repositories.NewMessageRepo(database),
		users:    repositories.NewUserRepo(database),
		db:       database,
	}, nil
}

func openBroker(cfg *config.Config, redisClient *redis.Client) (broker.Broker, error) {
	switch cfg.RegistryBackend {
	case config.BackendRedis:
		return broker.NewRedisBroker(redisClient), nil
	case config.BackendNATS:
		nc, err := broker.ConnectNATS(cfg.NATSURL, cfg.ServiceName)
		if err != nil {
			return nil, err
		}
		return broker.NewNATSBroker(nc), nil
	default:
		return nil, nil
	}
}

func pinger(database *sqlx.DB) handlers.Pinger {
	if database == nil {
		return nil
	}
	return database
}

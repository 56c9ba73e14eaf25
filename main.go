package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"watchparty-service/internal/auth"
	"watchparty-service/internal/broadcast"
	"watchparty-service/internal/config"
	"watchparty-service/internal/db"
	"watchparty-service/internal/handlers"
	"watchparty-service/internal/health"
	"watchparty-service/internal/middleware"
	"watchparty-service/internal/observability"
	"watchparty-service/internal/presence"
	"watchparty-service/internal/rabbitmq"
	"watchparty-service/internal/repositories"
	"watchparty-service/internal/rooms"
	"watchparty-service/internal/session"
	"watchparty-service/internal/store"
	"watchparty-service/internal/telemetry"
	"watchparty-service/internal/ws"
)

const auditRoutingKey = "audit.watchparty"

func main() {
	cfg := config.Load()
	observability.SetupLogger(cfg.LogLevel, cfg.LogFormat, config.ServiceName)
	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, config.ServiceName, cfg.Environment)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	checker := health.NewChecker(2 * time.Second)

	var (
		backend     store.Backend = store.NewMemoryBackend()
		bus         broadcast.Bus
		redisClient *redis.Client
		redisBus    *broadcast.RedisBus
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		redisBus, err = broadcast.NewRedisBus(ctx, redisClient, broadcast.DefaultChannel)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to redis bus")
		}
		backend = store.NewRedisBackend(redisClient, cfg.StoreMaxRetries)
		bus = redisBus
		checker.Register("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		log.Info().Msg("room state shared through redis")
	} else {
		bus = broadcast.NewLocalBus()
		log.Info().Msg("REDIS_URL not set, room state kept in memory")
	}

	var (
		roomRepo repositories.RoomRepository = repositories.NewMemoryRoomRepo()
		database *sqlx.DB
	)
	if cfg.DBDSN != "" {
		database, err = db.Connect(cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to db")
		}
		roomRepo = repositories.NewRoomRepo(database)
		checker.Register("db", database.PingContext)
	} else {
		log.Info().Msg("DB_DSN not set, rooms kept in memory")
	}

	publisher := rabbitmq.NewPublisher(ctx, cfg.AMQPURL, cfg.AMQPExchange)
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, config.ServiceName, cfg.Environment)

	directory := rooms.NewService(roomRepo, rooms.NewPasswordHasher(bcrypt.DefaultCost))
	if cfg.SeedSampleRooms {
		n, err := directory.SeedSampleRooms(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to seed sample rooms")
		}
		log.Info().Int("rooms", n).Msg("sample rooms seeded")
	}

	sessionClient := session.NewClient(cfg.SessionAPIURL, cfg.SessionAPITimeout)
	checker.Register("session_api", func(ctx context.Context) error {
		_, err := sessionClient.Health(ctx)
		return err
	})
	tickets := auth.NewTicketManager(cfg.TicketSecret, cfg.TicketTTL)
	engines := presence.NewFactory(backend, bus, observability.StoreCorrupted, presence.WithHistoryLimit(cfg.HistoryLimit))
	hub := ws.NewHub(bus)

	roomHandler := handlers.NewRoomHandler(directory, tickets, engines, audit)
	chatHandler := handlers.NewChatHandler(directory, engines, audit)
	roomWS := ws.NewRoomSocketHandler(hub, directory, tickets, engines)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(config.ServiceName),
		middleware.RequestID(),
		middleware.AccessLog(),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/health", checker.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, engines, hub, cfg.DebugRoutes)

	authMiddleware := middleware.AuthMiddleware(sessionClient)

	router.GET("/rooms", roomHandler.ListRooms)
	router.GET("/rooms/:room_id", roomHandler.GetRoom)
	router.POST("/rooms", authMiddleware, roomHandler.CreateRoom)
	router.GET("/rooms/mine", authMiddleware, roomHandler.MyRooms)
	router.PATCH("/rooms/:room_id", authMiddleware, roomHandler.UpdateRoom)
	router.POST("/rooms/:room_id/end", authMiddleware, roomHandler.EndRoom)
	router.POST("/rooms/:room_id/join", authMiddleware, roomHandler.JoinRoom)
	router.POST("/rooms/:room_id/ticket", authMiddleware, roomHandler.IssueTicket)

	router.GET("/rooms/:room_id/messages", authMiddleware, chatHandler.GetMessages)
	router.POST("/rooms/:room_id/messages", authMiddleware, chatHandler.PostMessage)
	router.GET("/rooms/:room_id/participants", authMiddleware, chatHandler.GetParticipants)
	router.DELETE("/rooms/:room_id/participants/:participant_id", authMiddleware, chatHandler.RemoveParticipant)

	router.GET("/ws/rooms/:room_id", roomWS.Handle)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthpb.RegisterHealthServer(grpcServer, checker.GRPCServer())

	watchCtx, stopWatch := context.WithCancel(ctx)
	go checker.Watch(watchCtx, 15*time.Second)

	var servers errgroup.Group
	servers.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	servers.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
		log.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
		return grpcServer.Serve(lis)
	})
	go func() {
		if err := servers.Wait(); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"service": func(ctx context.Context) error {
			stopWatch()
			checker.Shutdown()

			var errs []error
			errs = append(errs, httpServer.Shutdown(ctx))
			grpcServer.GracefulStop()
			errs = append(errs, hub.Drain(ctx, websocket.CloseGoingAway, "server shutting down"))

			if redisBus != nil {
				errs = append(errs, redisBus.Close())
			}
			if redisClient != nil {
				errs = append(errs, redisClient.Close())
			}
			if database != nil {
				errs = append(errs, database.Close())
			}
			errs = append(errs, publisher.Close())
			return errors.Join(errs...)
		},
		"tracer": shutdownTracer,
	})

	exitCode := <-wait
	log.Info().Int("code", exitCode).Msg("watchparty-service stopped")
	os.Exit(exitCode)
}

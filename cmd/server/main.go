package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"teamchat/internal/chat"
	"teamchat/internal/config"
	"teamchat/internal/db"
	"teamchat/internal/httpx"
	"teamchat/internal/membership"
	"teamchat/internal/mention"
	myMiddleware "teamchat/internal/middleware"
	"teamchat/internal/notification"
	"teamchat/internal/presence"
	"teamchat/internal/realtime"
	"teamchat/internal/storage"
	"teamchat/internal/user"
	"teamchat/internal/workspace"
)

// directory serves the lookups that span users and workspaces: mention
// resolution and presence fan-out.
type directory struct {
	users      *user.Repository
	workspaces *workspace.Repository
}

func (d directory) ChannelMemberIDs(ctx context.Context, channelID int64) ([]int64, error) {
	return d.workspaces.ChannelMemberIDs(ctx, channelID)
}

func (d directory) FindUserByDisplayName(ctx context.Context, name string) (int64, bool, error) {
	return d.users.FindUserByDisplayName(ctx, name)
}

func (d directory) GetStatus(ctx context.Context, userID int64) (string, error) {
	return d.users.GetStatus(ctx, userID)
}

func (d directory) SetStatus(ctx context.Context, userID int64, status string) error {
	return d.users.SetStatus(ctx, userID, status)
}

func (d directory) WorkspaceIDs(ctx context.Context, userID int64) ([]int64, error) {
	return d.workspaces.WorkspaceIDs(ctx, userID)
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Database
	database, err := db.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()
	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	log.Println("connected to PostgreSQL, schema ready")

	// 2. Event bus. Without redis the hub routes in-process.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisClient.Close()
		log.Println("connected to Redis, using the shared event bus")
	} else {
		log.Println("REDIS_URL not set, running as a single instance")
	}

	hub := realtime.NewHub(redisClient)
	if err := hub.SubscribeToRedis(ctx); err != nil {
		log.Fatalf("redis subscribe failed: %v", err)
	}

	var counter presence.Counter = presence.NewLocalCounter()
	if redisClient != nil {
		counter = presence.NewRedisCounter(redisClient)
	}

	// 3. Object storage. A nil store rejects uploads.
	var blobs *storage.ObjectStore
	if cfg.StorageEnabled() {
		blobs, err = storage.NewObjectStore(storage.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			log.Fatalf("object storage bucket check failed: %v", err)
		}
		log.Printf("object storage ready (bucket %s)", cfg.S3Bucket)
	} else {
		log.Println("object storage not configured, uploads disabled")
	}

	// 4. Features
	userRepo := user.NewRepository(database.Conn)
	workspaceRepo := workspace.NewRepository(database.Conn)
	chatRepo := chat.NewRepository(database.Conn)
	notificationRepo := notification.NewRepository(database.Conn)
	dir := directory{users: userRepo, workspaces: workspaceRepo}

	oracle := membership.NewOracle(workspaceRepo)
	engine := notification.NewEngine(notificationRepo, hub)
	tracker := presence.NewTracker(counter, dir, hub)

	userService := user.NewService(userRepo, blobs, cfg.JWTSecret, cfg.TokenTTL)
	workspaceService := workspace.NewService(workspaceRepo, oracle, hub)
	chatService := chat.NewService(chatRepo, oracle, mention.NewResolver(dir, oracle), engine, hub, blobs)

	userHandler := user.NewHandler(userService)
	workspaceHandler := workspace.NewHandler(workspaceService)
	chatHandler := chat.NewHandler(chatService)
	notificationHandler := notification.NewHandler(engine)
	presenceHandler := presence.NewHandler(tracker)
	uploadHandler := storage.NewHandler(blobs)
	wsHandler := realtime.NewHandler(hub, workspaceService, oracle, realtime.Options{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
		InboundRPS:     cfg.InboundRPS,
		InboundBurst:   cfg.InboundBurst,
		Inbound:        chatService,
	}, realtime.SessionHooks{
		Connect: func(ctx context.Context, userID int64) {
			if _, err := tracker.Connect(ctx, userID); err != nil {
				log.Printf("presence: connect user %d: %v", userID, err)
			}
		},
		Disconnect: func(ctx context.Context, userID int64) {
			if _, err := tracker.Disconnect(ctx, userID); err != nil {
				log.Printf("presence: disconnect user %d: %v", userID, err)
			}
		},
	})

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(r.Context()); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/ws", wsHandler.ServeWs)

		r.Route("/api", func(r chi.Router) {
			r.Get("/users/search", userHandler.Search)
			r.Get("/users/me", userHandler.Me)
			r.Patch("/users/me", userHandler.UpdateMe)
			r.Put("/users/me/status", presenceHandler.SetStatus)
			r.Put("/users/me/avatar", userHandler.UploadAvatar)
			r.Post("/uploads", uploadHandler.Upload)

			r.Post("/workspaces", workspaceHandler.CreateWorkspace)
			r.Get("/workspaces", workspaceHandler.ListWorkspaces)
			r.Post("/workspaces/{id}/members", workspaceHandler.AddWorkspaceMember)
			r.Post("/workspaces/{id}/channels", workspaceHandler.CreateChannel)
			r.Get("/workspaces/{id}/channels", workspaceHandler.ListChannels)

			r.Get("/channels/{id}", workspaceHandler.GetChannel)
			r.Post("/channels/{id}/members", workspaceHandler.AddChannelMember)
			r.Delete("/channels/{id}/members/{userID}", workspaceHandler.RemoveChannelMember)
			r.Get("/channels/{id}/messages", chatHandler.ListMessages)
			r.Post("/channels/{id}/messages", chatHandler.PostMessage)
			r.Post("/channels/{id}/read", chatHandler.MarkChannelRead)
			r.Get("/unread", chatHandler.UnreadCounts)

			r.Get("/messages/{id}/replies", chatHandler.ListReplies)
			r.Patch("/messages/{id}", chatHandler.EditMessage)
			r.Delete("/messages/{id}", chatHandler.DeleteMessage)
			r.Post("/messages/{id}/reactions", chatHandler.AddReaction)
			r.Delete("/messages/{id}/reactions/{emoji}", chatHandler.RemoveReaction)

			r.Post("/conversations", chatHandler.StartConversation)
			r.Get("/conversations", chatHandler.ListConversations)
			r.Get("/conversations/{id}/messages", chatHandler.ListDMs)
			r.Post("/conversations/{id}/messages", chatHandler.SendDM)

			r.Get("/notifications", notificationHandler.List)
			r.Get("/notifications/unread-count", notificationHandler.UnreadCount)
			r.Post("/notifications/read-all", notificationHandler.MarkAllRead)
			r.Post("/notifications/{id}/read", notificationHandler.MarkRead)
			r.Delete("/notifications/{id}", notificationHandler.Delete)
			r.Delete("/notifications", notificationHandler.DeleteAll)
		})
	})

	// 6. Serve until signalled
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("server starting on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stop()
}

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"brokerage/api"
	"brokerage/config"
	"brokerage/httputil"
	"brokerage/instagram"
	"brokerage/logging"
	"brokerage/mailer"
	"brokerage/mls"
	"brokerage/models"
	"brokerage/scheduler"
	"brokerage/services"
	"brokerage/storage"
	"brokerage/workers"
)

var (
	refreshNow  = flag.Bool("refresh", false, "Refresh the property cache once and exit")
	clearCache  = flag.Bool("clear", false, "Delete every cached listing and exit")
	createAdmin = flag.String("create-admin", "", "Create or reset an admin account (email:password) and exit")
	adminRole   = flag.String("role", string(models.RoleAdmin), "Role for -create-admin (admin|editor)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logFile, err := logging.Setup(logging.Options{Path: cfg.LogFile, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Warn().Err(err).Msg("Could not set up file logging")
	}
	defer logFile.Close()

	log.Info().Str("region", cfg.Region.ID).Str("name", cfg.Region.Name).Msg("Starting brokerage API")
	for id := range cfg.Regions {
		log.Debug().Str("region", id).Msg("Region config loaded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	clients := httputil.NewClients(cfg.Region.MLS.Timeout)
	mlsClient, err := mls.NewClient(mls.ConfigFromRegion(cfg.Region.ID, cfg.Region.MLS), clients.MLS)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid MLS configuration")
	}
	if cfg.Region.MLS.Token == "" {
		log.Warn().Str("env", strings.ToUpper(cfg.Region.ID)+"_MLS_TOKEN").Msg("MLS token not set, vendor requests will be rejected")
	}

	refresher := services.NewRefreshService(store, mlsClient, cfg.Region.ID, cfg.Region.MLS)
	properties := services.NewPropertyService(store, refresher, nil, cfg.Region.ID, cfg.Cache.TTL)
	auth := services.NewAuthService(store, jwtSecret(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)

	// Handle one-shot commands
	switch {
	case *createAdmin != "":
		email, password, ok := strings.Cut(*createAdmin, ":")
		if !ok {
			log.Fatal().Msg("-create-admin expects email:password")
		}
		u, err := auth.CreateAdmin(ctx, email, password, models.Role(*adminRole))
		if err != nil {
			log.Fatal().Err(err).Msg("Create admin failed")
		}
		log.Info().Str("email", u.Email).Str("role", string(u.Role)).Msg("Admin ready")
		return
	case *clearCache:
		n, err := properties.Clear(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Clear failed")
		}
		log.Info().Int("rows", n).Msg("Cache cleared")
		return
	case *refreshNow:
		run, err := refresher.Refresh(ctx, models.TriggerCLI)
		if err != nil {
			log.Fatal().Err(err).Msg("Refresh failed")
		}
		log.Info().Str("status", string(run.Status)).Int("fetched", run.Fetched).Msg("Refresh complete!")
		return
	}

	// Daemon mode
	worker := workers.NewRefreshWorker(refresher, properties)
	properties.SetTrigger(worker)
	go worker.Run(ctx, cfg.Cache.StaleCheckInterval)

	sched := scheduler.New(cfg.Scheduler, worker)
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	if cfg.Cache.RefreshOnStartup {
		worker.Trigger(models.TriggerStartup)
	}

	igCache, closeCache := openInstagramCache(ctx, cfg.Redis.URL)
	defer closeCache()

	router := api.NewRouter(api.Deps{
		Properties: properties,
		Directory:  services.NewDirectoryService(store, openPhotoStorage(ctx, cfg.Supabase)),
		Contact: services.NewContactService(openMailer(ctx, cfg.Mail), store,
			splitAddresses(cfg.Mail.ContactTo), splitAddresses(cfg.Mail.CareersTo)),
		Auth: auth,
		Instagram: instagram.NewClient(instagram.Config{
			GraphURL:    cfg.Instagram.GraphURL,
			OAuthURL:    cfg.Instagram.OAuthURL,
			AccessToken: cfg.Instagram.AccessToken,
			AppID:       cfg.Instagram.AppID,
			AppSecret:   cfg.Instagram.AppSecret,
			RedirectURI: cfg.Instagram.RedirectURI,
			CacheTTL:    cfg.Instagram.CacheTTL,
			FeedLimit:   cfg.Instagram.FeedLimit,
			StatusURL:   cfg.Instagram.DeletionStatusURL,
		}, clients.External, igCache),
		DB:              store,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		FormsPerMinute:  5,
		LoginsPerWindow: 10,
		LoginWindow:     5 * time.Minute,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// a synchronous refresh can take a while
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Msg("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}
	sched.Stop()
	cancel()
	<-worker.Done()
	log.Info().Msg("Goodbye!")
}

// openStore uses Postgres when DATABASE_URL is set, SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config) (services.Store, func()) {
	if cfg.Database.URL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.Database.URL, cfg.Region.ID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply Postgres schema")
		}
		log.Info().Str("dsn", maskConnectionString(cfg.Database.URL)).Msg("Connected to Postgres")
		return pg, pg.Close
	}

	lite, err := storage.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open SQLite")
	}
	log.Info().Str("path", cfg.Database.SQLitePath).Msg("SQLite database")
	return lite, func() { lite.Close() }
}

func openPhotoStorage(ctx context.Context, sb config.SupabaseConfig) services.PhotoStorage {
	if sb.AccessKeyID == "" || sb.SecretAccessKey == "" {
		log.Info().Msg("Photo storage not configured, uploads disabled")
		return nil
	}
	endpoint := sb.S3Endpoint
	if endpoint == "" && sb.URL != "" {
		endpoint = strings.TrimRight(sb.URL, "/") + "/storage/v1/s3"
	}
	up, err := storage.NewS3Uploader(ctx, storage.S3Config{
		Bucket:          sb.StorageBucket,
		Region:          sb.S3Region,
		Endpoint:        endpoint,
		AccessKeyID:     sb.AccessKeyID,
		SecretAccessKey: sb.SecretAccessKey,
		PublicBaseURL:   sb.PublicURL,
		SupabaseURL:     sb.URL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure photo storage")
	}
	log.Info().Str("bucket", sb.StorageBucket).Msg("Photo storage ready")
	return up
}

func openMailer(ctx context.Context, mc config.MailConfig) mailer.Mailer {
	if mc.AWSRegion == "" || mc.From == "" {
		log.Info().Msg("SES not configured, form submissions are logged only")
		return mailer.LogMailer{}
	}
	m, err := mailer.NewSESMailer(ctx, mc.AWSRegion, mc.From)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure SES")
	}
	return m
}

func openInstagramCache(ctx context.Context, redisURL string) (instagram.Cache, func()) {
	if redisURL == "" {
		return nil, func() {}
	}
	rc, err := instagram.NewRedisCache(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid REDIS_URL, Instagram cache disabled")
		return nil, func() {}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable, Instagram feed will be fetched live until it recovers")
	}
	return rc, func() { rc.Close() }
}

func jwtSecret(configured string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate JWT secret")
	}
	log.Warn().Msg("JWT_SECRET not set, using a random secret; admin sessions end on restart")
	return secret
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// maskConnectionString hides the password in a connection string for logging
func maskConnectionString(connStr string) string {
	scheme, rest, ok := strings.Cut(connStr, "://")
	if !ok {
		return connStr
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return connStr
	}
	userinfo := rest[:at]
	user, _, hasPass := strings.Cut(userinfo, ":")
	if !hasPass {
		return connStr
	}
	return scheme + "://" + user + ":****" + rest[at:]
}

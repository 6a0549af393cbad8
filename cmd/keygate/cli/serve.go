package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/keycodec"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/service"
)

const banner = `
 _                           _
| | _____ _   _  __ _  __ _| |_ ___
| |/ / _ \ | | |/ _' |/ _' | __/ _ \
|   <  __/ |_| | (_| | (_| | ||  __/
|_|\_\___|\__, |\__, |\__,_|\__\___|
          |___/ |___/
`

// devJWTSecret is used only with --dev when no secret is configured.
const devJWTSecret = "keygate-dev-secret-change-me"

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long:  "Start the HTTP server that exposes the key management API and the key-protected endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(loadConfig(), dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, fallback JWT secret)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(cfg *config.YAMLConfig, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(cfg, os.Stderr, dev)

	shutdown, err := cfg.ShutdownTimeout()
	if err != nil {
		return err
	}
	maxBody, err := cfg.MaxBodyBytes()
	if err != nil {
		return err
	}

	// 1. Key store
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	logger.Info("key store initialized", "driver", store.Driver())

	// 2. Key codec and metrics
	codec, err := keycodec.New(cfg.CodecConfig())
	if err != nil {
		store.Close()
		return fmt.Errorf("key codec: %w", err)
	}
	m := metrics.New("")
	m.Init()

	// 3. Rate limiter
	limiterCfg, err := cfg.LimiterConfig()
	if err != nil {
		store.Close()
		return fmt.Errorf("rate limit config: %w", err)
	}
	limiter, err := ratelimit.New(limiterCfg, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("rate limiter: %w", err)
	}
	limiter.OnError = m.RecordLimiterError

	// 4. Admin authentication
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		if !dev {
			store.Close()
			limiter.Close()
			return fmt.Errorf("auth.jwt_secret is required (set KEYGATE_AUTH_JWT_SECRET or use --dev)")
		}
		logger.Warn("auth.jwt_secret not set, using development secret")
		jwtSecret = devJWTSecret
	}
	authSvc := service.NewAuthService(jwtSecret, cfg.Auth.Issuer)

	// 5. Services
	keys := service.NewKeyService(store, codec, m, logger)
	gate := service.NewGate(service.NewVerifier(store, m), limiter, m, logger)

	// 6. Build and start HTTP server
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdown,
		CORSOrigins:     cfg.Server.CORS.Origins,
		MaxBodySize:     maxBody,
		APIKeyHeader:    cfg.Keys.Header,
		IPRateLimit:     cfg.Server.IPRateLimit,
	}

	srv := server.New(srvCfg, server.Deps{
		Store:   store,
		Keys:    keys,
		Gate:    gate,
		Auth:    authSvc,
		Limiter: limiter,
		Metrics: m,
	}, logger)

	fmt.Printf("→ keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Rate limit: %d per %s (%s, fail %s)\n",
		limiterCfg.MaxRequests, limiterCfg.Window, limiterCfg.Backend, limiterCfg.FailurePolicy)
	fmt.Println()

	return srv.ListenAndServe()
}

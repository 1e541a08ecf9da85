// Server runs the builder claim engine: the HTTP API, the gRPC health endpoint, and the
// background sweeper. Configuration comes from the environment (see internal/config).
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"

	"builder-claims/backend/internal/audit"
	audithandler "builder-claims/backend/internal/audit/handler"
	claimhandler "builder-claims/backend/internal/claim/handler"
	"builder-claims/backend/internal/claim/policy"
	claimservice "builder-claims/backend/internal/claim/service"
	"builder-claims/backend/internal/config"
	"builder-claims/backend/internal/health"
	"builder-claims/backend/internal/invalidation"
	invalidationhandler "builder-claims/backend/internal/invalidation/handler"
	otpdomain "builder-claims/backend/internal/otp/domain"
	otphandler "builder-claims/backend/internal/otp/handler"
	"builder-claims/backend/internal/otp/notifier"
	"builder-claims/backend/internal/otp/ratelimit"
	otpservice "builder-claims/backend/internal/otp/service"
	"builder-claims/backend/internal/platform/httpx"
	"builder-claims/backend/internal/platform/logging"
	"builder-claims/backend/internal/security"
	"builder-claims/backend/internal/server"
	sessionhandler "builder-claims/backend/internal/session/handler"
	sessionservice "builder-claims/backend/internal/session/service"
	"builder-claims/backend/internal/sweeper"
	"builder-claims/backend/internal/telemetry"
	telemetryotel "builder-claims/backend/internal/telemetry/otel"
	"builder-claims/backend/internal/telemetry/producer"
)

const (
	serviceName     = "builder-claims"
	shutdownTimeout = 15 * time.Second
	healthInterval  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		logger.Fatal("otel providers", zap.Error(err))
	}
	providers.SetGlobal()
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter(serviceName))
	if err != nil {
		logger.Warn("metrics disabled", zap.Error(err))
		metrics = nil
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal("stores", zap.Error(err))
	}
	defer func() { _ = st.Close() }()
	logger.Info("stores opened", zap.String("backend", cfg.StoreBackend))

	var auditPub, invalidationPub *producer.KafkaProducer
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		auditPub = producer.NewKafkaProducer(brokers, cfg.AuditKafkaTopic)
		invalidationPub = producer.NewKafkaProducer(brokers, cfg.InvalidationKafkaTopic)
		logger.Info("kafka publishing enabled",
			zap.String("audit_topic", auditPub.Topic()),
			zap.String("invalidation_topic", invalidationPub.Topic()))
	}

	auditOpts := []audit.Option{
		audit.WithZap(logger),
		audit.WithIPExtractor(httpx.ClientIP),
		audit.WithRetryMaxElapsed(cfg.AuditRetryMaxElapsedDuration()),
	}
	invOpts := []invalidation.Option{
		invalidation.WithLogger(logger),
		invalidation.WithMetrics(metrics),
		invalidation.WithEmitter(emitter),
	}
	if auditPub != nil {
		auditOpts = append(auditOpts, audit.WithPublisher(auditPub))
		invOpts = append(invOpts, invalidation.WithPublisher(invalidationPub))
	}
	auditLogger := audit.NewLogger(st.audit, auditOpts...)
	invalidations := invalidation.NewNotifier(st.invalidations, invOpts...)

	limiter := buildLimiter(cfg, st, logger)
	codeNotifier, devStore := buildNotifier(cfg, logger)

	challenges := otpservice.NewChallengeService(
		st.challenges, st.verifications, limiter, codeNotifier,
		security.NewCodeHasher(cfg.OTPHashCost),
		otpservice.Config{
			TTL:             cfg.ChallengeTTL(),
			MaxAttempts:     cfg.OTPMaxAttempts,
			DeliveryTimeout: cfg.DeliveryTimeoutDuration(),
			PurgeGrace:      max(otpservice.DefaultPurgeGrace, cfg.IssueWindow()),
		},
		otpservice.WithLogger(logger),
		otpservice.WithMetrics(metrics),
		otpservice.WithEmitter(emitter),
	)

	evaluator, err := policy.NewOPAEvaluatorFromFile(ctx, cfg.ClaimPolicyFile)
	if err != nil {
		logger.Fatal("claim policy", zap.Error(err))
	}

	claims := claimservice.NewClaimService(st.claims, challenges, st.profiles, auditLogger,
		claimservice.WithLogger(logger),
		claimservice.WithMetrics(metrics),
		claimservice.WithEmitter(emitter),
		claimservice.WithPolicy(evaluator),
		claimservice.WithInvalidator(invalidations),
	)
	sessions := sessionservice.NewSessionService(st.sessions, auditLogger,
		sessionservice.WithLogger(logger),
		sessionservice.WithMetrics(metrics),
		sessionservice.WithEmitter(emitter),
	)

	var tokens sessionhandler.Tokens
	if cfg.SessionTokensEnabled() {
		priv, pub, err := security.LoadKeyPair(cfg.SessionTokenKey, cfg.SessionTokenPublicKey)
		if err != nil {
			logger.Fatal("session token keys", zap.Error(err))
		}
		tokens = security.NewSessionTokens(priv, pub, cfg.SessionTokenIssuer, cfg.SessionTTL())
	}

	checker := health.NewChecker(logger).AddPolicy("policy", evaluator)
	if st.conn != nil {
		checker.AddPinger("postgres", st.conn)
	}

	ipLimiter := httpx.NewIPRateLimiter(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst)
	initiateLimiter := httpx.NewIPRateLimiter(cfg.InitiateRate())
	deps := server.Deps{
		Logger:        logger,
		Health:        checker,
		Claims:        claimhandler.New(claims).WithInitiateLimiter(initiateLimiter, logger),
		Sessions:      sessionhandler.New(sessions, tokens, logger),
		Audit:         audithandler.New(auditLogger),
		Invalidations: invalidationhandler.New(invalidations),
		RateLimiter:   ipLimiter,
	}
	if devStore != nil && !cfg.IsProduction() {
		deps.DevOTP = otphandler.NewDevHandler(devStore)
	}
	e := server.NewHTTPServer(deps)

	hs := grpchealth.NewServer()
	grpcServer := server.NewGRPCServer(logger, hs)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	sw := sweeper.New(claims, challenges, invalidations,
		sweeper.WithInterval(cfg.SweepIntervalDuration()),
		sweeper.WithRetention(cfg.InvalidationRetentionDuration()),
		sweeper.WithLogger(logger),
		sweeper.WithEmitter(emitter),
		sweeper.WithHook(ipLimiter.Sweep),
		sweeper.WithHook(initiateLimiter.Sweep),
	)
	go sw.Run(ctx)
	go checker.Watch(ctx, hs, healthInterval)

	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if err := invalidations.Close(shutdownCtx); err != nil {
		logger.Warn("invalidation dispatch did not drain", zap.Error(err))
	}
	for _, p := range []*producer.KafkaProducer{auditPub, invalidationPub} {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			logger.Warn("kafka producer close", zap.String("topic", p.Topic()), zap.Error(err))
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// buildLimiter uses Redis when REDIS_ADDR is set, otherwise counts challenges in the store.
func buildLimiter(cfg *config.Config, st *stores, logger *zap.Logger) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewStoreLimiter(st.challenges, cfg.OTPIssueLimit, cfg.IssueWindow())
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.Info("issuance limiter: redis", zap.String("addr", cfg.RedisAddr))
	return ratelimit.NewRedisLimiter(client, cfg.OTPIssueLimit, cfg.IssueWindow())
}

// buildNotifier routes phone codes to SMS Local and email codes to SendGrid. In dev OTP mode,
// or outside production with no provider configured, codes are also kept in a DevStore.
func buildNotifier(cfg *config.Config, logger *zap.Logger) (notifier.Notifier, *notifier.DevStore) {
	var dev *notifier.DevStore
	if cfg.OTPReturnToClient || (!cfg.IsProduction() && cfg.SMSLocalAPIKey == "" && cfg.SendGridAPIKey == "") {
		dev = notifier.NewDevStore()
	}

	var sms, email notifier.Notifier
	if cfg.SMSLocalAPIKey != "" {
		sms = notifier.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	}
	if cfg.SendGridAPIKey != "" {
		email = notifier.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.EmailFromName, cfg.EmailFromAddress)
	}

	router := notifier.NewRouter()
	route := func(m otpdomain.Method, real notifier.Notifier) {
		switch {
		case real != nil && dev != nil:
			router.Handle(m, notifier.Fanout{real, dev})
		case real != nil:
			router.Handle(m, real)
		case dev != nil:
			router.Handle(m, dev)
		default:
			logger.Warn("no delivery channel configured", zap.String("method", string(m)))
		}
	}
	route(otpdomain.MethodPhone, sms)
	route(otpdomain.MethodEmail, email)
	return router, dev
}

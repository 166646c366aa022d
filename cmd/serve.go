package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Gopher0727/RoleInvite/internal/api"
	"github.com/Gopher0727/RoleInvite/internal/autorole"
	"github.com/Gopher0727/RoleInvite/internal/directory"
	"github.com/Gopher0727/RoleInvite/internal/events"
	"github.com/Gopher0727/RoleInvite/internal/metrics"
	"github.com/Gopher0727/RoleInvite/internal/pkg/grpc"
	"github.com/Gopher0727/RoleInvite/internal/pkg/kafka"
	"github.com/Gopher0727/RoleInvite/internal/pkg/redis"
	"github.com/Gopher0727/RoleInvite/internal/prompt"
	"github.com/Gopher0727/RoleInvite/internal/utils"
	"github.com/Gopher0727/RoleInvite/middleware/jwt"
	logger "github.com/Gopher0727/RoleInvite/middleware/log"
	"github.com/Gopher0727/RoleInvite/utils/ratelimit"
)

const (
	noConsumerFlag = "no-consumer"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Run the command API and the join consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("配置初始化失败: %w", err)
		}

		log, err := logger.NewLogger(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("日志初始化失败: %w", err)
		}
		defer log.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// 初始化 Redis
		redisClient, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis 初始化失败: %w", err)
		}
		defer redisClient.Close()

		// 初始化 PostgreSQL
		db, err := directory.Open(&cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres 初始化失败: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		// 同一社区的写操作在同一条 lane 上串行执行
		lanes := utils.NewLanes(cfg.WriteLanes.Lanes, cfg.WriteLanes.Replicas, cfg.WriteLanes.QueueSize, log)
		defer lanes.Stop()

		m := metrics.New()
		opts := []autorole.Option{
			autorole.WithObserver(m),
			autorole.WithConfirmTimeout(cfg.Autorole.ConfirmTimeout),
			autorole.WithRefreshInterval(cfg.Autorole.RefreshInterval),
		}

		store := autorole.Serialize(redis.NewLinkStore(redisClient.GetClient()), lanes)
		dir := directory.New(db)
		console := prompt.NewConsole(log)
		defer console.Close()

		registry := autorole.NewRegistry(store, dir, console, log, opts...)
		tracker := autorole.NewTracker(dir, redis.NewUsageCache(redisClient.GetClient()), store, log, opts...)
		granter := autorole.NewGranter(store, dir, log, opts...)
		attributor := autorole.NewAttributor(store, tracker, granter, log, opts...)

		go tracker.Run(ctx)

		// 初始化协程池，限制并发处理的加入事件数
		pool := utils.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, log)
		pool.Start()
		defer pool.Stop()

		if !viper.GetBool(noConsumerFlag) {
			dispatcher := events.NewDispatcher(attributor, pool, log)
			consumer, err := kafka.NewConsumer(&cfg.Kafka, []string{cfg.Kafka.Topics.MemberJoin}, dispatcher.HandleMessage, log)
			if err != nil {
				return fmt.Errorf("kafka 消费者初始化失败: %w", err)
			}
			defer consumer.Stop()

			go func() {
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("Kafka consumer failed to start", zap.Error(err))
					return
				}
				log.Info("Kafka consumer ready", zap.String("topic", cfg.Kafka.Topics.MemberJoin))
			}()
		}

		probes := map[string]grpc.Probe{
			"redis":    redisClient.Ping,
			"postgres": sqlDB.PingContext,
		}

		grpcServer, err := grpc.NewServer(cfg.GRPC.Address, log)
		if err != nil {
			return fmt.Errorf("grpc 初始化失败: %w", err)
		}
		go grpcServer.Watch(ctx, 10*time.Second, probes)
		go func() {
			if err := grpcServer.Start(); err != nil {
				log.Error("gRPC server stopped", zap.Error(err))
			}
		}()
		defer grpcServer.Stop()

		limiter := ratelimit.NewWindowLimiter(redisClient.GetClient(), log, cfg.RateLimit.CommandsPerMinute, time.Minute, cfg.RateLimit.FailOpen)
		tokens := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours)

		health := make(map[string]api.HealthCheck, len(probes))
		for name, probe := range probes {
			health[name] = api.HealthCheck(probe)
		}
		router := api.NewRouter(cfg.Server.Mode,
			api.NewHandler(registry, console, m, log, version),
			api.NewMiddlewareManager(tokens, limiter, log),
			api.RouterOptions{Metrics: m.Handler(), Health: health},
		)

		srv := &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			log.Info("Starting HTTP server", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
			log.Info("Shutting down")
		case err := <-errCh:
			return fmt.Errorf("启动服务器失败: %w", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown", zap.Error(err))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool(noConsumerFlag, false, "Serve the command API only, without consuming join events")

	rootCmd.AddCommand(serveCmd)
}

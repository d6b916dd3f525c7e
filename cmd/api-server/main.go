// Package main API Server 入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"overlay-backend/internal/agent"
	agentapi "overlay-backend/internal/apiserver/agent"
	"overlay-backend/internal/apiserver/analysis"
	"overlay-backend/internal/apiserver/server"
	"overlay-backend/internal/config"
	"overlay-backend/internal/llm"
	redisbus "overlay-backend/internal/shared/eventbus/redis"
	"overlay-backend/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configDirFlag := flag.String("config", "", "配置文件目录")
	flag.Parse()
	if *configDirFlag != "" {
		config.SetConfigDir(*configDirFlag)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := cfg.Log
	logCfg.Component = "api-server"
	logger := logging.New(logCfg)

	logger.Info("[server.starting]", "env", cfg.Env, "config", cfg.String())
	if cfg.LLM.APIKey == "" {
		logger.Warn("[server.config] OPENAI_API_KEY not set, /api/analysis will return 500")
	}

	// 指标
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics("overlay", promReg)

	// Run 注册表
	registry := agent.NewRegistry(agent.Config{
		Steps:     cfg.Agent.Steps,
		StepDelay: cfg.Agent.StepDelay,
	}, logger)
	registry.SetTransitionHook(metrics.RecordRunTransition)

	// 事件日志（可选，Redis Streams）
	var (
		journal *agent.Journal
		store   *redisbus.Store
		events  agentapi.EventReader
	)
	if cfg.EventJournal {
		store, err = redisbus.NewStoreFromURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Error("[server.redis] failed to connect")
			os.Exit(1)
		}
		journal = agent.NewJournal(store, logger)
		registry.SetRecorder(journal)
		events = store
		logger.Info("[server.redis] event journal enabled")
	}

	// 页面分析
	client := llm.NewClient(llm.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Timeout:         cfg.LLM.Timeout,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	})
	analyzer := llm.NewAnalyzer(client, cfg.LLM.MaxDOMChars, logger)
	analyzer.SetObserver(metrics.RecordLLMRequest)

	agentHandler := agentapi.NewHandler(registry, agentapi.Options{
		Events:            events,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		WSPingInterval:    cfg.Stream.WSPingInterval,
		CheckOrigin:       server.OriginChecker(cfg.AllowOrigins),
		Observer:          metrics,
		Logger:            logger,
	})
	h := server.NewHandler(agentHandler, analysis.NewHandler(analyzer, logger), metrics, cfg.AllowOrigins, logger)

	// 推送流在 Run 终止后仍保持连接，关闭时通过 baseCtx 统一断开
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	// 推送流是长连接，不设置 WriteTimeout
	srv := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     h.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	// 优雅关闭
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("[server.shutdown] shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// 先停 Run，再断开推送流
		if err := registry.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("[server.shutdown] registry")
		}
		cancelStreams()
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("[server.shutdown] http")
		}
		if journal != nil {
			if err := journal.Close(ctx); err != nil {
				logger.WithError(err).Warn("[server.shutdown] journal", "pending", journal.Pending())
			}
		}
		if store != nil {
			store.Close()
		}
	}()

	logger.Info("[server.listening]", "addr", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("[server.failed]")
		os.Exit(1)
	}
	<-shutdownDone
	logger.Info("[server.stopped]")
}

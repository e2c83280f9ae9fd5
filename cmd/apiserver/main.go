package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sdp/ordercore/internal/app"
	"sdp/ordercore/internal/app/config"
)

var (
	configPath = flag.String("config", "./config/apiserver.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	// 2. 初始化应用
	application, cleanup, err := app.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer cleanup()

	// 3. 创建 HTTP Server
	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      application.Engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 4. 启动 HTTP Server（后台 goroutine）
	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	// 5. 优雅停机处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Received shutdown signal, gracefully shutting down...")
		gracefulShutdown(server, application, cfg.Server.ShutdownTimeout)
	case err := <-serverErrChan:
		log.Fatalf("HTTP server error: %v", err)
	}

	log.Println("Application stopped")
}

// gracefulShutdown 优雅停机
// 先停 HTTP 入口，再等在途的工作流执行收尾
func gracefulShutdown(server *http.Server, application *app.App, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	log.Println("Stopping HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	log.Println("Waiting for in-flight workflow executions...")
	done := make(chan struct{})
	go func() {
		application.WorkflowSvc.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("All workflow executions finished")
	case <-time.After(timeout):
		log.Println("Workflow executions still running, exiting anyway")
	}
}

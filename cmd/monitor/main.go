package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sdp/ordercore/internal/app"
	"sdp/ordercore/internal/app/config"
	"sdp/ordercore/internal/app/monitor"
)

var (
	configPath = flag.String("config", "./config/monitor.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	log.Println("========================================")
	log.Println("  OrderCore Monitor Starting...")
	log.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, log_level: %s\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)

	// 2. 初始化应用
	application, cleanup, err := app.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer cleanup()

	// 3. 创建 Manager
	mgr := monitor.NewManagerInstance(application.MonitorJobs, application.Logger)

	// 4. 启动 Manager（goroutine）
	go func() {
		if err := mgr.Start(); err != nil {
			log.Fatalf("Manager start failed: %v", err)
		}
	}()

	log.Println("Monitor started. Press Ctrl+C to shutdown.")

	// 5. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Println("========================================")
	log.Printf("  Received signal: %v\n", sig)
	log.Println("  Shutting down Monitor...")
	log.Println("========================================")

	// 6. 优雅关闭 Manager，并等在途工作流收尾
	mgr.Shutdown()
	application.WorkflowSvc.Wait()

	fmt.Println("========================================")
	fmt.Println("  Monitor exited gracefully")
	fmt.Println("========================================")
}

package app

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/config"
	"sdp/ordercore/internal/app/domains/gateway/device"
	"sdp/ordercore/internal/app/domains/gateway/ledger"
	"sdp/ordercore/internal/app/domains/gateway/notify"
	"sdp/ordercore/internal/app/domains/repo/rpexception"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/domains/repo/rpworkflow"
	"sdp/ordercore/internal/app/domains/services/svexception"
	"sdp/ordercore/internal/app/domains/services/svsettlement"
	"sdp/ordercore/internal/app/domains/services/svtimeout"
	"sdp/ordercore/internal/app/domains/services/svworkflow"
	"sdp/ordercore/internal/app/infra/mq/lmstfy"
	"sdp/ordercore/internal/app/infra/persistence/mysql"
	"sdp/ordercore/internal/app/infra/persistence/redis"
	"sdp/ordercore/internal/app/monitor"
	"sdp/ordercore/internal/app/pkg/idgen"
	"sdp/ordercore/internal/app/pkg/logger"
	"sdp/ordercore/internal/app/server/handlers/exception"
	"sdp/ordercore/internal/app/server/handlers/order"
	"sdp/ordercore/internal/app/server/handlers/workflow"
	"sdp/ordercore/internal/app/server/routers"
)

// App 组装后的应用
type App struct {
	Engine        *gin.Engine
	WorkflowSvc   *svworkflow.Engine
	Classifier    *svexception.Classifier
	Detector      *svtimeout.Detector
	Settlement    *svsettlement.Service
	OrderRepo     rporder.OrderRepository
	ExceptionRepo rpexception.ExceptionRepository
	Logger        logger.Logger
	MonitorJobs   []*monitor.Job
}

// InitializeApp 构建全部依赖
// 返回 cleanup 负责按依赖逆序释放资源
func InitializeApp(cfg *config.Config) (*App, func(), error) {
	log, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger failed: %w", err)
	}

	idgen.Init(cfg.App.MachineID)

	db, err := mysql.Open(cfg.MySQL.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql failed: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		mysql.Close(db)
		return nil, nil, fmt.Errorf("init redis failed: %w", err)
	}

	mqClient, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
	if err != nil {
		_ = redisClient.Close()
		mysql.Close(db)
		return nil, nil, fmt.Errorf("init lmstfy failed: %w", err)
	}

	cleanup := func() {
		_ = redisClient.Close()
		mysql.Close(db)
		_ = log.Sync()
	}

	// 仓储
	orderRepo := rporder.NewOrderRepository(db)
	exceptionRepo := rpexception.NewExceptionRepository(db)
	executionRepo := rpworkflow.NewExecutionRepository(db)
	reviewRepo := rpworkflow.NewReviewTaskRepository(db)

	// 网关
	notifyGW := notify.NewQueueGateway(mqClient, cfg.Queues.UserNotify, cfg.Queues.AdminNotify, log)
	deviceGW := device.NewQueueGateway(mqClient, redisClient, cfg.Queues.DeviceCmd, 30*time.Second, log)
	ledgerGW := ledger.NewQueueGateway(mqClient, cfg.Queues.Refund)

	// 工作流引擎
	registry, err := svworkflow.NewDefaultRegistry()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load workflow templates failed: %w", err)
	}
	actions := svworkflow.NewActions(orderRepo, reviewRepo, deviceGW, ledgerGW, notifyGW, redisClient, log)
	engine := svworkflow.NewEngine(registry, orderRepo, executionRepo, notifyGW, actions, redisClient, svworkflow.Config{
		RetryBackoff:       cfg.Workflow.RetryBackoff,
		DefaultStepTimeout: cfg.Workflow.DefaultStepTimeout,
	}, log)

	// 异常分类器
	ruleSet, err := svexception.NewDefaultRuleSet()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load exception rules failed: %w", err)
	}
	provider := svexception.NewHeuristicProvider(orderRepo)
	classifier := svexception.NewClassifier(orderRepo, exceptionRepo, ruleSet, provider, engine, notifyGW, log)

	// 超时检测器
	detector := svtimeout.NewDetector(orderRepo, deviceGW, ledgerGW, notifyGW, redisClient, svtimeout.Config{
		PaymentTimeout:    cfg.Timeout.Payment,
		StartTimeout:      cfg.Timeout.Start,
		ScanBatchSize:     cfg.Timeout.ScanBatchSize,
		MaxRemedyAttempts: cfg.Timeout.MaxRemedyAttempts,
		AlertOvertimeMin:  cfg.Timeout.AlertOvertimeMin,
	}, log)

	// 结算
	tiers := svsettlement.DefaultTiers()
	if len(cfg.Settlement.Tiers) > 0 {
		tiers = tiers[:0]
		for _, t := range cfg.Settlement.Tiers {
			tiers = append(tiers, svsettlement.Tier{Min: t.Min, Max: t.Max, Rate: t.Rate})
		}
	}
	settlement, err := svsettlement.NewService(orderRepo, tiers, svsettlement.DefaultBonusRules(), log)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init settlement failed: %w", err)
	}

	// 定时任务
	jobs := monitor.BuildJobs(detector, classifier, settlement, orderRepo, exceptionRepo, monitor.JobConfig{
		ScanInterval:    cfg.Monitor.ScanInterval,
		SweepInterval:   cfg.Monitor.SweepInterval,
		SweepBatchSize:  cfg.Monitor.SweepBatchSize,
		PruneInterval:   cfg.Monitor.PruneInterval,
		RecordRetention: cfg.Monitor.RecordRetention,
	}, log)

	// HTTP
	orderHandler := order.NewOrderHandler(orderRepo, log)
	workflowHandler := workflow.NewWorkflowHandler(engine, log)
	reviewHandler := workflow.NewReviewHandler(reviewRepo, engine)
	exceptionHandler := exception.NewExceptionHandler(classifier, exceptionRepo, log)
	router := routers.SetupRoutes(orderHandler, workflowHandler, reviewHandler, exceptionHandler, log)

	return &App{
		Engine:        router,
		WorkflowSvc:   engine,
		Classifier:    classifier,
		Detector:      detector,
		Settlement:    settlement,
		OrderRepo:     orderRepo,
		ExceptionRepo: exceptionRepo,
		Logger:        log,
		MonitorJobs:   jobs,
	}, cleanup, nil
}

package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"sdp/ordercore/internal/app/pkg/logger"
)

// Manager 接口
type Manager interface {
	Start() error
	Shutdown()
}

// ManagerInstance Manager 实例
// 每个定时任务在独立 goroutine 里按固定周期跑，关闭时等全部任务退出
type ManagerInstance struct {
	ctx        context.Context
	jobs       []*Job
	closing    *atomic.Bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	logger     logger.Logger
}

// NewManagerInstance 创建 Manager
func NewManagerInstance(jobs []*Job, log logger.Logger) *ManagerInstance {
	return &ManagerInstance{
		ctx:        context.Background(),
		jobs:       jobs,
		closing:    atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
		logger:     log,
	}
}

// Start 启动 Manager
func (m *ManagerInstance) Start() error {
	m.logger.Infof(m.ctx, "[Manager] Starting, job count: %d", len(m.jobs))

	// 启动所有 Job（每个 Job 在独立 goroutine）
	for _, job := range m.jobs {
		j := job
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runJob(j)
		}()
		m.logger.Infof(m.ctx, "[Manager] Job started: %s interval=%s", j.Name, j.Interval)
	}

	m.logger.Infof(m.ctx, "[Manager] Start success")

	// 阻塞等待退出信号
	<-m.shutdownCh
	return nil
}

// Shutdown 优雅退出
func (m *ManagerInstance) Shutdown() {
	m.logger.Infof(m.ctx, "[Manager] Began to close")

	// 原子操作，保证并发安全
	if m.closing.CAS(false, true) {
		close(m.shutdownCh)
		m.wg.Wait()
		m.logger.Infof(m.ctx, "[Manager] Shutdown complete")
	}
}

// runJob 单个 Job 的定时循环
// RunOnStart 的 Job 先执行一次再进入周期
func (m *ManagerInstance) runJob(job *Job) {
	if job.RunOnStart {
		m.runOnce(job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runOnce(job)
		case <-m.shutdownCh:
			m.logger.Infof(m.ctx, "[Manager] Job stopped: %s", job.Name)
			return
		}
	}
}

// runOnce 执行一轮，panic 只打日志不拖垮整个进程
func (m *ManagerInstance) runOnce(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf(m.ctx, "[Manager] Job panic: job=%s panic=%v", job.Name, r)
		}
	}()

	ctx := context.WithValue(m.ctx, "job_name", job.Name)
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		m.logger.Errorf(ctx, "[Manager] Job run failed: job=%s error=%v", job.Name, err)
		return
	}
	m.logger.Debugf(ctx, "[Manager] Job run done: job=%s cost=%s", job.Name, time.Since(start))
}

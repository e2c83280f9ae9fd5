package svworkflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sdp/ordercore/internal/app/domains/entity/etexception"
	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/entity/etworkflow"
	"sdp/ordercore/internal/app/domains/gateway/notify"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/domains/repo/rpworkflow"
	"sdp/ordercore/internal/app/infra/persistence/redis"
	"sdp/ordercore/internal/app/pkg/errorx"
	"sdp/ordercore/internal/app/pkg/logger"
)

// 错误定义
var (
	ErrActiveExecutionExists = errors.New("order already has an active execution of this template")
	errStepCancelled         = errors.New("step cancelled")
)

// CompletionNotifier 执行完成通知（Redis 发布/订阅）
type CompletionNotifier interface {
	PublishWorkflowComplete(ctx context.Context, channel string, notification *redis.WorkflowNotification) error
}

// Config 引擎配置
type Config struct {
	RetryBackoff       time.Duration // 步骤重试退避（默认 5s）
	DefaultStepTimeout time.Duration // 步骤默认硬超时（默认 30s）
}

// runningExecution 运行期执行体
// cancelCh 用于协作式取消：在步骤边界与延迟等待中检查
type runningExecution struct {
	exec       *etworkflow.Execution
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func (r *runningExecution) cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// Engine 补救工作流引擎
// 每次 StartWorkflow 产生一个 Execution，独立协程沿步骤图推进；
// 执行状态写穿到仓储，内存 map 仅服务于查询与取消
type Engine struct {
	registry  *Registry
	orderRepo rporder.OrderRepository
	execRepo  rpworkflow.ExecutionRepository
	notifyGW  notify.Gateway
	actions   *Actions
	notifier  CompletionNotifier
	logger    logger.Logger
	cfg       Config

	mu     sync.RWMutex
	active map[string]*runningExecution

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewEngine 创建工作流引擎
// notifier 可为 nil（不发布完成通知）
func NewEngine(
	registry *Registry,
	orderRepo rporder.OrderRepository,
	execRepo rpworkflow.ExecutionRepository,
	notifyGW notify.Gateway,
	actions *Actions,
	notifier CompletionNotifier,
	cfg Config,
	log logger.Logger,
) *Engine {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if cfg.DefaultStepTimeout <= 0 {
		cfg.DefaultStepTimeout = 30 * time.Second
	}
	return &Engine{
		registry:  registry,
		orderRepo: orderRepo,
		execRepo:  execRepo,
		notifyGW:  notifyGW,
		actions:   actions,
		notifier:  notifier,
		logger:    log,
		cfg:       cfg,
		active:    make(map[string]*runningExecution),
		baseCtx:   context.Background(),
	}
}

// ListTemplates 列出全部模板
func (e *Engine) ListTemplates() []*etworkflow.Template {
	return e.registry.List()
}

// StartWorkflow 启动一次执行
// 校验模板与订单存在，同一订单同一模板至多一个活跃执行
func (e *Engine) StartWorkflow(ctx context.Context, templateID string, orderID int64, variables map[string]interface{}) (string, error) {
	template, ok := e.registry.Get(templateID)
	if !ok {
		return "", fmt.Errorf("%w: %s", errorx.ErrTemplateNotFound, templateID)
	}

	if _, err := e.orderRepo.GetByID(ctx, orderID); err != nil {
		return "", fmt.Errorf("start workflow %s: %w", templateID, err)
	}

	exists, err := e.execRepo.HasActiveExecution(ctx, orderID, templateID)
	if err != nil {
		return "", fmt.Errorf("check active execution failed: %w", err)
	}
	if exists {
		return "", fmt.Errorf("%w: order_id=%d template=%s", ErrActiveExecutionExists, orderID, templateID)
	}

	// 变量合并：模板默认值在先，调用方覆盖在后
	merged := make(map[string]interface{}, len(template.Variables)+len(variables))
	for k, v := range template.Variables {
		merged[k] = v
	}
	for k, v := range variables {
		merged[k] = v
	}

	execution := &etworkflow.Execution{
		ID:            uuid.New().String(),
		TemplateID:    templateID,
		OrderID:       orderID,
		Status:        etworkflow.ExecutionCreated,
		CurrentStepID: template.FirstStepID,
		Variables:     merged,
		CreatedAt:     time.Now(),
	}

	if err := e.execRepo.Create(ctx, execution); err != nil {
		return "", fmt.Errorf("persist execution failed: %w", err)
	}

	rexec := &runningExecution{
		exec:     execution,
		cancelCh: make(chan struct{}),
	}
	e.mu.Lock()
	e.active[execution.ID] = rexec
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(rexec, template)

	e.logger.Infof(ctx, "[Engine] Workflow started: execution=%s template=%s order_id=%d",
		execution.ID, templateID, orderID)
	return execution.ID, nil
}

// GetExecution 查询执行（优先内存，回退仓储）
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*etworkflow.Execution, error) {
	e.mu.RLock()
	rexec, ok := e.active[executionID]
	e.mu.RUnlock()
	if ok {
		return e.snapshot(rexec), nil
	}
	return e.execRepo.GetByID(ctx, executionID)
}

// CancelWorkflow 取消执行
// 仅 RUNNING 状态有效；协作式取消，在途步骤副作用不回滚
func (e *Engine) CancelWorkflow(ctx context.Context, executionID string) bool {
	e.mu.Lock()
	rexec, ok := e.active[executionID]
	if !ok || rexec.exec.Status != etworkflow.ExecutionRunning {
		e.mu.Unlock()
		return false
	}
	rexec.exec.Status = etworkflow.ExecutionCancelled
	e.mu.Unlock()

	rexec.cancel()
	e.logger.Infof(ctx, "[Engine] Workflow cancel requested: execution=%s", executionID)
	return true
}

// Wait 等待所有执行协程退出（优雅停机用）
func (e *Engine) Wait() {
	e.wg.Wait()
}

// snapshot 拷贝执行状态（避免调用方读到运行协程正在改写的切片）
func (e *Engine) snapshot(rexec *runningExecution) *etworkflow.Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp := *rexec.exec
	cp.StepRuns = make([]etworkflow.StepRun, len(rexec.exec.StepRuns))
	copy(cp.StepRuns, rexec.exec.StepRuns)
	cp.Variables = make(map[string]interface{}, len(rexec.exec.Variables))
	for k, v := range rexec.exec.Variables {
		cp.Variables[k] = v
	}
	return &cp
}

// run 执行主循环：沿步骤图推进直到终态
func (e *Engine) run(rexec *runningExecution, template *etworkflow.Template) {
	defer e.wg.Done()

	exec := rexec.exec
	ctx := context.WithValue(e.baseCtx, "execution_id", exec.ID)

	e.setStatus(ctx, rexec, etworkflow.ExecutionRunning, "")

	for {
		if e.isCancelled(rexec) {
			e.finish(ctx, rexec, etworkflow.ExecutionCancelled, "")
			return
		}

		e.mu.RLock()
		stepID := exec.CurrentStepID
		e.mu.RUnlock()

		step, ok := template.StepByID(stepID)
		if !ok {
			// 模板配置错误：记录步骤 ID 便于排查
			e.finish(ctx, rexec, etworkflow.ExecutionFailed,
				fmt.Sprintf("step not found: %s", stepID))
			return
		}

		success, stepErr := e.runStepWithRetry(ctx, rexec, step)
		if errors.Is(stepErr, errStepCancelled) {
			e.finish(ctx, rexec, etworkflow.ExecutionCancelled, "")
			return
		}

		var next string
		if success {
			next = step.OnSuccess
		} else {
			next = step.OnFailure
			if next == "" {
				// 未声明失败边：该执行硬停止，绝不静默成功
				e.finish(ctx, rexec, etworkflow.ExecutionFailed,
					fmt.Sprintf("step %s failed: %v", step.ID, stepErr))
				return
			}
		}

		if next == "" || next == etworkflow.EndStepID {
			e.finish(ctx, rexec, etworkflow.ExecutionCompleted, "")
			return
		}

		e.mu.Lock()
		exec.CurrentStepID = next
		e.mu.Unlock()
		e.persist(ctx, rexec)
	}
}

// runStepWithRetry 单步执行（含重试与退避），输出记录在步骤运行里
func (e *Engine) runStepWithRetry(ctx context.Context, rexec *runningExecution, step *etworkflow.Step) (bool, error) {
	exec := rexec.exec

	e.mu.Lock()
	runIdx := exec.AppendStepRun(step.ID)
	e.mu.Unlock()
	e.persist(ctx, rexec)

	var output interface{}
	var err error

	attempts := step.RetryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			// 固定退避，期间可被取消
			select {
			case <-time.After(e.cfg.RetryBackoff):
			case <-rexec.cancelCh:
				e.closeStepRun(ctx, rexec, runIdx, etworkflow.StepRunFailed, nil, errStepCancelled)
				return false, errStepCancelled
			}
			e.mu.Lock()
			exec.StepRuns[runIdx].RetryCount++
			e.mu.Unlock()
		}

		output, err = e.executeStep(ctx, rexec, step)
		if err == nil {
			e.closeStepRun(ctx, rexec, runIdx, etworkflow.StepRunCompleted, output, nil)
			return true, nil
		}
		if errors.Is(err, errStepCancelled) {
			e.closeStepRun(ctx, rexec, runIdx, etworkflow.StepRunFailed, nil, err)
			return false, err
		}

		e.logger.Warnf(ctx, "[Engine] Step attempt failed: step=%s attempt=%d error=%v",
			step.ID, attempt+1, err)
	}

	e.closeStepRun(ctx, rexec, runIdx, etworkflow.StepRunFailed, nil, err)
	return false, err
}

// executeStep 按步骤类型分发（单次尝试）
func (e *Engine) executeStep(ctx context.Context, rexec *runningExecution, step *etworkflow.Step) (interface{}, error) {
	exec := rexec.exec

	switch step.Type {
	case etworkflow.StepCondition:
		return e.executeCondition(ctx, exec, step)

	case etworkflow.StepAction:
		return e.executeAction(ctx, exec, step)

	case etworkflow.StepNotification:
		return e.executeNotification(ctx, exec, step)

	case etworkflow.StepDelay:
		return e.executeDelay(ctx, rexec, step)

	default:
		return nil, fmt.Errorf("%w: %s", etworkflow.ErrUnknownStepType, step.Type)
	}
}

// executeCondition 条件步骤
// 必须重读订单快照，绝不信任执行变量里的旧状态
func (e *Engine) executeCondition(ctx context.Context, exec *etworkflow.Execution, step *etworkflow.Step) (interface{}, error) {
	order, err := e.orderRepo.GetByID(ctx, exec.OrderID)
	if err != nil {
		return nil, fmt.Errorf("refetch order failed: %w", err)
	}

	evalCtx := e.buildEvalContext(order, exec)
	ok, err := etexception.EvaluateAll(step.Conditions, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("evaluate conditions failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("condition not satisfied: step=%s", step.ID)
	}
	return true, nil
}

// executeAction 动作步骤（带硬超时的可取消分发）
func (e *Engine) executeAction(ctx context.Context, exec *etworkflow.Execution, step *etworkflow.Step) (interface{}, error) {
	name, _ := step.Config["action"].(string)
	fn, ok := e.actions.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown action type: %q in step %s", name, step.ID)
	}

	order, err := e.orderRepo.GetByID(ctx, exec.OrderID)
	if err != nil {
		return nil, fmt.Errorf("refetch order failed: %w", err)
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultStepTimeout
	}
	actCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(actCtx, &ActionInput{
		Execution: exec,
		Step:      step,
		Order:     order,
		Config:    step.Config,
	})
}

// executeNotification 通知步骤
func (e *Engine) executeNotification(ctx context.Context, exec *etworkflow.Execution, step *etworkflow.Step) (interface{}, error) {
	target, _ := step.Config["target"].(string)
	title, _ := step.Config["title"].(string)
	content, _ := step.Config["content"].(string)
	msgType, _ := step.Config["type"].(string)

	order, err := e.orderRepo.GetByID(ctx, exec.OrderID)
	if err != nil {
		return nil, fmt.Errorf("refetch order failed: %w", err)
	}

	switch target {
	case "admins":
		priority, _ := step.Config["priority"].(string)
		if priority == "" {
			priority = "medium"
		}
		err = e.notifyGW.SendToAdmins(ctx, &notify.AdminAlert{
			Title:    title,
			Content:  content,
			Type:     msgType,
			Priority: priority,
			OrderID:  order.ID,
		})
	default:
		err = e.notifyGW.SendToUser(ctx, order.UserID, &notify.UserMessage{
			Title:   title,
			Content: content,
			Type:    msgType,
			Data:    map[string]interface{}{"order_no": order.OrderNo},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("send notification failed: %w", err)
	}
	return "sent", nil
}

// executeDelay 延迟步骤
// 仅挂起当前执行协程，不阻塞其他订单的执行；延迟期间可被取消
func (e *Engine) executeDelay(ctx context.Context, rexec *runningExecution, step *etworkflow.Step) (interface{}, error) {
	minutes, _ := step.Config["minutes"].(float64)
	if minutes <= 0 {
		if n, ok := step.Config["minutes"].(int); ok {
			minutes = float64(n)
		}
	}
	d := time.Duration(minutes * float64(time.Minute))

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return "delayed", nil
	case <-rexec.cancelCh:
		return nil, errStepCancelled
	}
}

// buildEvalContext 构造条件评估上下文
// 执行变量打底，订单实时字段覆盖（订单状态永远以重读结果为准）
func (e *Engine) buildEvalContext(order *etorder.Order, exec *etworkflow.Execution) map[string]interface{} {
	evalCtx := make(map[string]interface{}, len(exec.Variables)+12)
	for k, v := range exec.Variables {
		evalCtx[k] = v
	}

	evalCtx["status"] = string(order.Status)
	evalCtx["amount"] = order.Amount
	evalCtx["paid_amount"] = order.PaidAmount
	evalCtx["refund_amount"] = order.RefundAmount
	evalCtx["payment_method"] = order.PaymentMethod
	evalCtx["duration_minutes"] = order.DurationMinutes
	evalCtx["user_id"] = order.UserID
	evalCtx["merchant_id"] = order.MerchantID
	evalCtx["device_id"] = order.DeviceID
	if order.StartAt != nil {
		evalCtx["elapsed_minutes"] = order.ElapsedMinutes(time.Now())
	}
	return evalCtx
}

// isCancelled 步骤边界取消检查
func (e *Engine) isCancelled(rexec *runningExecution) bool {
	select {
	case <-rexec.cancelCh:
		return true
	default:
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return rexec.exec.Status == etworkflow.ExecutionCancelled
}

// closeStepRun 写入单步执行结果
func (e *Engine) closeStepRun(ctx context.Context, rexec *runningExecution, runIdx int, status etworkflow.StepRunStatus, output interface{}, err error) {
	e.mu.Lock()
	run := &rexec.exec.StepRuns[runIdx]
	run.Status = status
	run.Output = output
	if err != nil {
		run.Error = err.Error()
	}
	now := time.Now()
	run.FinishedAt = &now
	e.mu.Unlock()
	e.persist(ctx, rexec)
}

// setStatus 更新执行状态并持久化
func (e *Engine) setStatus(ctx context.Context, rexec *runningExecution, status etworkflow.ExecutionStatus, errMsg string) {
	e.mu.Lock()
	rexec.exec.Status = status
	if errMsg != "" {
		rexec.exec.Error = errMsg
	}
	e.mu.Unlock()
	e.persist(ctx, rexec)
}

// finish 终结执行：落库、移出活跃表、发布完成通知
func (e *Engine) finish(ctx context.Context, rexec *runningExecution, status etworkflow.ExecutionStatus, errMsg string) {
	e.mu.Lock()
	exec := rexec.exec
	// 取消竞态：取消发生在终态写入之前时保留取消结果
	if exec.Status != etworkflow.ExecutionCancelled || status == etworkflow.ExecutionCancelled {
		exec.Status = status
	}
	if errMsg != "" {
		exec.Error = errMsg
	}
	now := time.Now()
	exec.FinishedAt = &now
	e.mu.Unlock()

	e.persist(ctx, rexec)

	e.mu.Lock()
	delete(e.active, exec.ID)
	e.mu.Unlock()

	if e.notifier != nil {
		channel := fmt.Sprintf("workflow:result:%s", exec.ID)
		_ = e.notifier.PublishWorkflowComplete(ctx, channel, &redis.WorkflowNotification{
			ExecutionID: exec.ID,
			OrderID:     exec.OrderID,
			Status:      string(exec.Status),
			Timestamp:   time.Now().Unix(),
		})
	}

	e.logger.Infof(ctx, "[Engine] Workflow finished: execution=%s status=%s error=%q",
		exec.ID, exec.Status, exec.Error)
}

// persist 写穿执行状态（失败只记日志，不阻断推进）
func (e *Engine) persist(ctx context.Context, rexec *runningExecution) {
	snapshot := e.snapshot(rexec)
	if err := e.execRepo.Save(ctx, snapshot); err != nil {
		e.logger.Errorf(ctx, "[Engine] Persist execution failed: execution=%s error=%v", snapshot.ID, err)
	}
}

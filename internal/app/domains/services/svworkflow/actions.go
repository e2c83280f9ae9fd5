package svworkflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/entity/etworkflow"
	"sdp/ordercore/internal/app/domains/gateway/device"
	"sdp/ordercore/internal/app/domains/gateway/ledger"
	"sdp/ordercore/internal/app/domains/gateway/notify"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/domains/repo/rpworkflow"
	"sdp/ordercore/internal/app/pkg/logger"
)

// ActionInput 动作入参
type ActionInput struct {
	Execution *etworkflow.Execution  // 当前执行
	Step      *etworkflow.Step       // 当前步骤
	Order     *etorder.Order         // 订单快照（动作执行前重新读取）
	Config    map[string]interface{} // 步骤配置
}

// ActionFunc 动作处理函数
// 可能因重试被多次调用，资金类副作用必须按 订单+步骤 幂等
type ActionFunc func(ctx context.Context, input *ActionInput) (interface{}, error)

// Idempotency 幂等键存储（Redis SETNX 语义）
type Idempotency interface {
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// Actions 动作注册表与依赖
type Actions struct {
	orderRepo   rporder.OrderRepository
	reviewRepo  rpworkflow.ReviewTaskRepository
	deviceGW    device.Gateway
	ledgerGW    ledger.Gateway
	notifyGW    notify.Gateway
	idempotency Idempotency
	logger      logger.Logger
	handlers    map[string]ActionFunc
}

// NewActions 创建动作注册表
func NewActions(
	orderRepo rporder.OrderRepository,
	reviewRepo rpworkflow.ReviewTaskRepository,
	deviceGW device.Gateway,
	ledgerGW ledger.Gateway,
	notifyGW notify.Gateway,
	idempotency Idempotency,
	log logger.Logger,
) *Actions {
	a := &Actions{
		orderRepo:   orderRepo,
		reviewRepo:  reviewRepo,
		deviceGW:    deviceGW,
		ledgerGW:    ledgerGW,
		notifyGW:    notifyGW,
		idempotency: idempotency,
		logger:      log,
	}
	a.handlers = map[string]ActionFunc{
		"cancel_order":              a.cancelOrder,
		"initiate_refund":           a.initiateRefund,
		"retry_device_start":        a.retryDeviceStart,
		"mark_device_maintenance":   a.markDeviceMaintenance,
		"create_manual_review_task": a.createManualReviewTask,
		"execute_review_decision":   a.executeReviewDecision,
		"complete_workflow":         a.completeWorkflow,
	}
	return a
}

// Lookup 按名称查找动作处理函数
// 未注册的动作名属于模板配置错误，对该步骤是致命的
func (a *Actions) Lookup(name string) (ActionFunc, bool) {
	fn, ok := a.handlers[name]
	return fn, ok
}

// cancelOrder 取消订单并释放设备
func (a *Actions) cancelOrder(ctx context.Context, input *ActionInput) (interface{}, error) {
	order := input.Order
	if !order.CanCancel() {
		return nil, fmt.Errorf("%w: %s -> %s", etorder.ErrInvalidTransition, order.Status, etorder.StatusCancelled)
	}

	ok, err := a.orderRepo.TransitionStatus(ctx, order.ID, order.Status, etorder.StatusCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel order failed: %w", err)
	}
	if !ok {
		// 条件更新输给并发流转，按订单当前真实状态重新判断，
		// 此处不再强行取消（状态机守卫即幂等保证）
		return "skipped: concurrent transition", nil
	}

	if err := a.deviceGW.Release(ctx, order.DeviceID); err != nil {
		// 设备释放失败不回滚取消，交管理端跟进
		a.logger.Errorf(ctx, "[Action] release device failed after cancel: order_id=%d, device_id=%d, error=%v",
			order.ID, order.DeviceID, err)
		_ = a.notifyGW.SendToAdmins(ctx, &notify.AdminAlert{
			Title:    "设备释放失败",
			Content:  fmt.Sprintf("订单 %s 取消后释放设备 %d 失败", order.OrderNo, order.DeviceID),
			Type:     "device_release_failure",
			Priority: "high",
			OrderID:  order.ID,
		})
	}

	reason, _ := input.Config["reason"].(string)
	return map[string]interface{}{"cancelled": true, "reason": reason}, nil
}

// initiateRefund 发起退款（按 订单+步骤 幂等，杜绝重试重复出款）
func (a *Actions) initiateRefund(ctx context.Context, input *ActionInput) (interface{}, error) {
	order := input.Order
	if !order.CanRefund() {
		return nil, fmt.Errorf("order %s not refundable in status %s", order.OrderNo, order.Status)
	}

	amount := order.RefundableAmount()
	if v, ok := input.Config["amount"]; ok {
		if f, ok := toInt64(v); ok && f > 0 {
			amount = f
		}
	}
	if err := order.ApplyRefund(amount); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("refund:%d:%s", order.ID, input.Step.ID)
	first, err := a.idempotency.SetNX(ctx, key, input.Execution.ID, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("refund idempotency check failed: %w", err)
	}
	if !first {
		a.logger.Warnf(ctx, "[Action] duplicate refund suppressed: order_id=%d, step=%s", order.ID, input.Step.ID)
		return map[string]interface{}{"refunded": true, "duplicate": true}, nil
	}

	reason, _ := input.Config["reason"].(string)
	if err := a.ledgerGW.InitiateRefund(ctx, order.ID, amount, reason); err != nil {
		// 出款未落地：必须释放幂等键，否则后续重试会被当成重复退款吞掉
		if derr := a.idempotency.Del(ctx, key); derr != nil {
			a.logger.Errorf(ctx, "[Action] Release refund idempotency key failed: key=%s error=%v", key, derr)
		}
		return nil, fmt.Errorf("initiate refund failed: %w", err)
	}

	updates := map[string]interface{}{"refund_amount": order.RefundAmount}
	if etorder.CanTransition(order.Status, etorder.StatusRefunding) {
		if _, err := a.orderRepo.TransitionStatus(ctx, order.ID, order.Status, etorder.StatusRefunding, updates); err != nil {
			return nil, fmt.Errorf("transition to refunding failed: %w", err)
		}
	} else if err := a.orderRepo.Update(ctx, order.ID, updates); err != nil {
		return nil, fmt.Errorf("persist refund amount failed: %w", err)
	}

	return map[string]interface{}{"refunded": true, "amount": amount}, nil
}

// retryDeviceStart 重试启动设备
func (a *Actions) retryDeviceStart(ctx context.Context, input *ActionInput) (interface{}, error) {
	order := input.Order
	started, err := a.deviceGW.RetryStart(ctx, order.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("retry device start failed: %w", err)
	}
	if !started {
		return nil, fmt.Errorf("device %d did not start", order.DeviceID)
	}

	// 启动成功：推进到使用中，记录启动时间
	now := time.Now()
	if order.Status == etorder.StatusPaid {
		if _, err := a.orderRepo.TransitionStatus(ctx, order.ID, etorder.StatusPaid, etorder.StatusStarting, nil); err != nil {
			return nil, err
		}
		order.Status = etorder.StatusStarting
	}
	if order.Status == etorder.StatusStarting {
		ok, err := a.orderRepo.TransitionStatus(ctx, order.ID, etorder.StatusStarting, etorder.StatusInUse,
			map[string]interface{}{"start_at": now})
		if err != nil {
			return nil, err
		}
		if !ok {
			return "skipped: concurrent transition", nil
		}
	}

	return map[string]interface{}{"started": true}, nil
}

// markDeviceMaintenance 标记设备待维护
func (a *Actions) markDeviceMaintenance(ctx context.Context, input *ActionInput) (interface{}, error) {
	reason, _ := input.Config["reason"].(string)
	if reason == "" {
		reason = "flagged by remediation workflow"
	}
	if err := a.deviceGW.MarkMaintenance(ctx, input.Order.DeviceID, reason); err != nil {
		return nil, fmt.Errorf("mark maintenance failed: %w", err)
	}
	return map[string]interface{}{"device_id": input.Order.DeviceID, "reason": reason}, nil
}

// createManualReviewTask 创建人工审核任务并通报
func (a *Actions) createManualReviewTask(ctx context.Context, input *ActionInput) (interface{}, error) {
	reason, _ := input.Config["reason"].(string)
	task := &rpworkflow.ReviewTask{
		ID:          uuid.New().String(),
		OrderID:     input.Order.ID,
		ExecutionID: input.Execution.ID,
		Reason:      reason,
		Status:      rpworkflow.ReviewStatusPending,
	}
	if err := a.reviewRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create review task failed: %w", err)
	}

	_ = a.notifyGW.SendToAdmins(ctx, &notify.AdminAlert{
		Title:    "人工审核任务",
		Content:  fmt.Sprintf("订单 %s 需要人工审核：%s", input.Order.OrderNo, reason),
		Type:     "manual_review",
		Priority: "critical",
		OrderID:  input.Order.ID,
		Data:     map[string]interface{}{"task_id": task.ID},
	})

	return map[string]interface{}{"task_id": task.ID}, nil
}

// executeReviewDecision 执行人工审核结论
// task_id 与 decision 从执行变量读取（由审核接口写入后续启动的工作流）
func (a *Actions) executeReviewDecision(ctx context.Context, input *ActionInput) (interface{}, error) {
	taskID, _ := input.Execution.Variables["task_id"].(string)
	decision, _ := input.Execution.Variables["decision"].(string)
	if taskID == "" || decision == "" {
		return nil, fmt.Errorf("review decision requires task_id and decision variables")
	}

	if err := a.reviewRepo.Decide(ctx, taskID, decision); err != nil {
		return nil, fmt.Errorf("record review decision failed: %w", err)
	}

	switch decision {
	case "approve_refund":
		return a.initiateRefund(ctx, input)
	case "reject":
		return map[string]interface{}{"task_id": taskID, "decision": decision}, nil
	default:
		return nil, fmt.Errorf("unknown review decision: %s", decision)
	}
}

// completeWorkflow 终结动作（无副作用的显式收尾标记）
func (a *Actions) completeWorkflow(ctx context.Context, input *ActionInput) (interface{}, error) {
	return "completed", nil
}

// toInt64 数值归一化
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

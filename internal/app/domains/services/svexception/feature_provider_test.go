package svexception

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdp/ordercore/internal/app/domains/entity/etorder"
)

func TestHeuristicProviderPaymentSuccessRate(t *testing.T) {
	repo := newFakeOrderRepo(orderWith(1, etorder.StatusPayPending))
	repo.totalSince = 10
	repo.statusCounts = map[etorder.OrderStatus]int64{
		etorder.StatusCancelled: 2,
		etorder.StatusClosed:    1,
	}
	provider := NewHeuristicProvider(repo)

	v, ok, err := provider.Get(context.Background(), 1, "payment_success_rate")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.7, v.(float64), 0.001)
}

func TestHeuristicProviderNoHistory(t *testing.T) {
	repo := newFakeOrderRepo(orderWith(1, etorder.StatusPayPending))
	provider := NewHeuristicProvider(repo)

	// 新用户无历史订单：不惩罚，按满成功率处理
	v, ok, err := provider.Get(context.Background(), 1, "payment_success_rate")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestHeuristicProviderCancellationFrequency(t *testing.T) {
	repo := newFakeOrderRepo(orderWith(1, etorder.StatusCancelled))
	repo.statusCounts = map[etorder.OrderStatus]int64{etorder.StatusCancelled: 4}
	provider := NewHeuristicProvider(repo)

	v, ok, err := provider.Get(context.Background(), 1, "cancellation_frequency")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), v)
}

func TestHeuristicProviderStaticSignals(t *testing.T) {
	provider := NewHeuristicProvider(newFakeOrderRepo())
	ctx := context.Background()

	v, ok, err := provider.Get(ctx, 1, "device_failure_rate")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.05, v)

	v, ok, err = provider.Get(ctx, 1, "user_risk_score")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20.0, v)

	// 未知字段按缺失处理
	_, ok, err = provider.Get(ctx, 1, "moon_phase")
	require.NoError(t, err)
	assert.False(t, ok)
}

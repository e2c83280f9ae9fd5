package etworkflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdp/ordercore/internal/app/domains/entity/etexception"
)

// validTemplate 构造一个最小可通过校验的模板
func validTemplate() *Template {
	return &Template{
		ID:          "tpl_test",
		Name:        "测试模板",
		Version:     1,
		FirstStepID: "check",
		Steps: []Step{
			{
				ID:   "check",
				Name: "检查状态",
				Type: StepCondition,
				Conditions: []etexception.Condition{
					{Field: "status", Operator: etexception.OpEq, Value: "PAY_PENDING"},
				},
				OnSuccess: "notify",
				OnFailure: EndStepID,
			},
			{
				ID:        "notify",
				Name:      "发送通知",
				Type:      StepNotification,
				Config:    map[string]interface{}{"target": "user"},
				OnSuccess: EndStepID,
			},
		},
	}
}

func TestTemplateValidateOK(t *testing.T) {
	require.NoError(t, validTemplate().Validate())
}

func TestTemplateValidateBasicFields(t *testing.T) {
	tpl := validTemplate()
	tpl.ID = ""
	assert.ErrorIs(t, tpl.Validate(), ErrInvalidTemplateID)

	tpl = validTemplate()
	tpl.Steps = nil
	assert.ErrorIs(t, tpl.Validate(), ErrNoSteps)

	// 入口步骤不存在视为悬空指针
	tpl = validTemplate()
	tpl.FirstStepID = "missing"
	assert.ErrorIs(t, tpl.Validate(), ErrDanglingPointer)
}

func TestTemplateValidateDuplicateStepID(t *testing.T) {
	tpl := validTemplate()
	tpl.Steps = append(tpl.Steps, Step{
		ID:        "notify",
		Type:      StepNotification,
		OnSuccess: EndStepID,
	})
	assert.ErrorIs(t, tpl.Validate(), ErrDuplicateStepID)
}

func TestTemplateValidateUnknownStepType(t *testing.T) {
	tpl := validTemplate()
	tpl.Steps[1].Type = StepType("teleport")
	assert.ErrorIs(t, tpl.Validate(), ErrUnknownStepType)
}

func TestTemplateValidateConditionStep(t *testing.T) {
	// condition 步骤必须带条件
	tpl := validTemplate()
	tpl.Steps[0].Conditions = nil
	assert.Error(t, tpl.Validate())

	// 条件操作符必须合法
	tpl = validTemplate()
	tpl.Steps[0].Conditions[0].Operator = "like"
	assert.Error(t, tpl.Validate())
}

func TestTemplateValidateDanglingPointer(t *testing.T) {
	tpl := validTemplate()
	tpl.Steps[0].OnSuccess = "ghost"
	assert.ErrorIs(t, tpl.Validate(), ErrDanglingPointer)

	tpl = validTemplate()
	tpl.Steps[0].OnFailure = "ghost"
	assert.ErrorIs(t, tpl.Validate(), ErrDanglingPointer)

	// 空串与 end_workflow 都是合法终止边
	tpl = validTemplate()
	tpl.Steps[0].OnFailure = ""
	assert.NoError(t, tpl.Validate())
}

func TestTemplateValidateNoTerminalPath(t *testing.T) {
	// 两个步骤互相指向，没有任何终止边
	tpl := &Template{
		ID:          "tpl_loop",
		FirstStepID: "a",
		Steps: []Step{
			{ID: "a", Type: StepNotification, OnSuccess: "b", OnFailure: "b"},
			{ID: "b", Type: StepNotification, OnSuccess: "a", OnFailure: "a"},
		},
	}
	assert.ErrorIs(t, tpl.Validate(), ErrNoTerminalPath)
}

func TestStepByID(t *testing.T) {
	tpl := validTemplate()

	step, ok := tpl.StepByID("notify")
	require.True(t, ok)
	assert.Equal(t, StepNotification, step.Type)

	_, ok = tpl.StepByID("missing")
	assert.False(t, ok)
}

func TestExecutionStepRuns(t *testing.T) {
	exec := &Execution{ID: "exec-1", TemplateID: "tpl_test", OrderID: 1001}

	idx := exec.AppendStepRun("check")
	assert.Equal(t, 0, idx)
	assert.Equal(t, StepRunRunning, exec.StepRuns[idx].Status)

	exec.StepRuns[idx].Status = StepRunCompleted
	idx = exec.AppendStepRun("check")
	assert.Equal(t, 1, idx)

	// LastRunOf 返回最近一次
	run := exec.LastRunOf("check")
	require.NotNil(t, run)
	assert.Equal(t, StepRunRunning, run.Status)

	assert.Nil(t, exec.LastRunOf("missing"))
}

func TestExecutionStatusIsTerminal(t *testing.T) {
	assert.False(t, ExecutionCreated.IsTerminal())
	assert.False(t, ExecutionRunning.IsTerminal())
	assert.True(t, ExecutionCompleted.IsTerminal())
	assert.True(t, ExecutionFailed.IsTerminal())
	assert.True(t, ExecutionCancelled.IsTerminal())
}

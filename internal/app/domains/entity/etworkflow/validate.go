package etworkflow

import (
	"fmt"

	"sdp/ordercore/internal/app/domains/entity/etexception"
)

// Validate 模板加载期校验
// 规则：
// 1. 基础字段完整（ID、步骤非空、入口步骤存在）
// 2. 步骤 ID 唯一、类型合法、condition 步骤带条件
// 3. OnSuccess/OnFailure 不允许悬空指针（空串与 end_workflow 视为终止）
// 4. 从入口步骤出发必须能到达某个终止边，否则模板必然死循环
func (t *Template) Validate() error {
	if t.ID == "" {
		return ErrInvalidTemplateID
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("%w: template %s", ErrNoSteps, t.ID)
	}

	stepIDs := make(map[string]bool, len(t.Steps))
	for i := range t.Steps {
		step := &t.Steps[i]
		if stepIDs[step.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateStepID, step.ID)
		}
		stepIDs[step.ID] = true

		switch step.Type {
		case StepCondition:
			if len(step.Conditions) == 0 {
				return fmt.Errorf("condition step %s has no conditions", step.ID)
			}
			for _, c := range step.Conditions {
				if !etexception.IsValidOperator(c.Operator) {
					return fmt.Errorf("condition step %s: unknown operator %s", step.ID, c.Operator)
				}
			}
		case StepAction, StepNotification, StepDelay:
			// 配置内容由引擎在执行期解释
		default:
			return fmt.Errorf("%w: step %s type %s", ErrUnknownStepType, step.ID, step.Type)
		}
	}

	if _, ok := t.StepByID(t.FirstStepID); !ok {
		return fmt.Errorf("%w: first step %s", ErrDanglingPointer, t.FirstStepID)
	}

	for i := range t.Steps {
		step := &t.Steps[i]
		for _, next := range []string{step.OnSuccess, step.OnFailure} {
			if next == "" || next == EndStepID {
				continue
			}
			if !stepIDs[next] {
				return fmt.Errorf("%w: step %s -> %s", ErrDanglingPointer, step.ID, next)
			}
		}
	}

	if !t.hasReachableTerminal() {
		return fmt.Errorf("%w: template %s", ErrNoTerminalPath, t.ID)
	}

	return nil
}

// hasReachableTerminal 从入口步骤 BFS，确认存在可达的终止边
func (t *Template) hasReachableTerminal() bool {
	visited := make(map[string]bool)
	queue := []string{t.FirstStepID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		step, ok := t.StepByID(id)
		if !ok {
			continue
		}

		for _, next := range []string{step.OnSuccess, step.OnFailure} {
			if next == "" || next == EndStepID {
				return true
			}
			queue = append(queue, next)
		}
	}

	return false
}

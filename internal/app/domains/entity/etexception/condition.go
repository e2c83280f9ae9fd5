package etexception

import (
	"fmt"
	"strings"
	"time"
)

// Operator 条件运算符
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpBetween  Operator = "between" // 两端均为闭区间
	OpContains Operator = "contains"
)

// IsValidOperator 判断运算符是否合法
func IsValidOperator(op Operator) bool {
	switch op {
	case OpEq, OpNe, OpGt, OpLt, OpGte, OpLte, OpIn, OpBetween, OpContains:
		return true
	}
	return false
}

// Condition 单个条件
// Field 取自评估上下文（订单字段 + 派生信号），Value 为比较基准
type Condition struct {
	Field     string                 // 字段名
	Operator  Operator               // 运算符
	Value     interface{}            // 比较值（in/between 为列表）
	Window    time.Duration          // 可选：统计时间窗口
	Threshold float64                // 可选：阈值
	Extra     map[string]interface{} // 可选：扩展配置
}

// Evaluate 在给定上下文中评估条件
// 上下文缺少该字段时视为不命中（返回 false，不报错）
func (c *Condition) Evaluate(evalCtx map[string]interface{}) (bool, error) {
	actual, ok := evalCtx[c.Field]
	if !ok {
		return false, nil
	}

	switch c.Operator {
	case OpEq:
		return compareEqual(actual, c.Value), nil
	case OpNe:
		return !compareEqual(actual, c.Value), nil
	case OpGt, OpLt, OpGte, OpLte:
		return compareOrdered(actual, c.Value, c.Operator)
	case OpIn:
		return evaluateIn(actual, c.Value)
	case OpBetween:
		return evaluateBetween(actual, c.Value)
	case OpContains:
		return evaluateContains(actual, c.Value)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownOperator, c.Operator)
	}
}

// EvaluateAll 评估条件列表（AND 组合：全部为真才命中）
func EvaluateAll(conditions []Condition, evalCtx map[string]interface{}) (bool, error) {
	for i := range conditions {
		ok, err := conditions[i].Evaluate(evalCtx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// toFloat 数值归一化（JSON 反序列化后数字可能是多种 Go 类型）
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case time.Duration:
		return float64(n), true
	}
	return 0, false
}

// compareEqual 判等（数值按数值比较，其余按字符串表示比较）
func compareEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareOrdered 大小比较（仅支持数值）
func compareOrdered(a, b interface{}, op Operator) (bool, error) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, a, b)
	}

	switch op {
	case OpGt:
		return fa > fb, nil
	case OpLt:
		return fa < fb, nil
	case OpGte:
		return fa >= fb, nil
	case OpLte:
		return fa <= fb, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
}

// evaluateIn 成员判断（Value 为候选列表）
func evaluateIn(actual, value interface{}) (bool, error) {
	items, ok := toSlice(value)
	if !ok {
		return false, fmt.Errorf("operator in requires a list value, got %T", value)
	}
	for _, item := range items {
		if compareEqual(actual, item) {
			return true, nil
		}
	}
	return false, nil
}

// evaluateBetween 区间判断（Value 为 [min, max]，两端闭区间）
func evaluateBetween(actual, value interface{}) (bool, error) {
	bounds, ok := toSlice(value)
	if !ok || len(bounds) != 2 {
		return false, fmt.Errorf("operator between requires a [min, max] value, got %v", value)
	}

	fa, okA := toFloat(actual)
	lo, okLo := toFloat(bounds[0])
	hi, okHi := toFloat(bounds[1])
	if !okA || !okLo || !okHi {
		return false, fmt.Errorf("operator between requires numeric operands")
	}

	return fa >= lo && fa <= hi, nil
}

// evaluateContains 包含判断（字符串子串或列表成员）
func evaluateContains(actual, value interface{}) (bool, error) {
	if s, ok := actual.(string); ok {
		return strings.Contains(s, fmt.Sprintf("%v", value)), nil
	}
	if items, ok := toSlice(actual); ok {
		for _, item := range items {
			if compareEqual(item, value) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("operator contains requires a string or list field, got %T", actual)
}

// toSlice 列表归一化
func toSlice(v interface{}) ([]interface{}, bool) {
	switch items := v.(type) {
	case []interface{}:
		return items, true
	case []string:
		out := make([]interface{}, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(items))
		for i, f := range items {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]interface{}, len(items))
		for i, n := range items {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

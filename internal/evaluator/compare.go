package evaluator

import "wisefido-threshold/internal/models"

// Compare 按运算符比较 value 与 threshold，未知运算符返回 false
func Compare(value float64, op string, threshold float64) bool {
	switch op {
	case models.OpGreater:
		return value > threshold
	case models.OpLess:
		return value < threshold
	case models.OpGreaterOrEqual:
		return value >= threshold
	case models.OpLessOrEqual:
		return value <= threshold
	case models.OpEqual:
		return value == threshold
	default:
		return false
	}
}

// ValidOperator 运算符是否受支持
func ValidOperator(op string) bool {
	switch op {
	case models.OpGreater, models.OpLess, models.OpGreaterOrEqual, models.OpLessOrEqual, models.OpEqual:
		return true
	}
	return false
}

package repository

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable 持久化存储不可用（连接失败、SQL 执行失败等）
var ErrStoreUnavailable = errors.New("store unavailable")

// storeError 包装数据库错误，保证 errors.Is(err, ErrStoreUnavailable)
func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

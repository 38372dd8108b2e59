package cache

import (
	"context"
	"time"
)

// BytesCache — байтовый кэш со сроком жизни. Второй результат Get — признак
// наличия ключа, отсутствие ключа не ошибка.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"AuthPlatform/pkg/errors"
	"AuthPlatform/pkg/logger"
	"AuthPlatform/pkg/metrics"
)

// IdempotencyHeader заголовок клиентского ключа идемпотентности
const IdempotencyHeader = "X-Idempotency-Key"

// Ledger журнал идемпотентности, который нужен стадии
type Ledger interface {
	GenerateKey(principalID, operation, token string) string
	Reserve(ctx context.Context, key string) (bool, error)
	GetProcessedResult(ctx context.Context, key string) (json.RawMessage, error)
	MarkAsProcessed(ctx context.Context, key string, result interface{}) error
	Release(ctx context.Context, key string) error
}

// Idempotent выполняет операцию не более одного раза на ключ
// (принципал, операция, клиентский ключ) в пределах TTL журнала.
// Повтор получает DuplicateOperation с ранее сохраненным результатом
func Idempotent(ledger Ledger, operation string, m *metrics.Metrics, log logger.Logger) Stage {
	return func(next Endpoint) Endpoint {
		return func(r *http.Request) (*Response, error) {
			ctx := r.Context()

			token := r.Header.Get(IdempotencyHeader)
			if token == "" {
				return nil, errors.Newf(errors.ErrIdempotencyKey, "header %s is required for this operation", IdempotencyHeader)
			}

			principalID := ""
			if principal := PrincipalFrom(ctx); principal != nil {
				principalID = principal.ID
			}
			key := ledger.GenerateKey(principalID, operation, token)

			reserved, err := ledger.Reserve(ctx, key)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrInternal, "idempotency ledger unavailable")
			}
			if !reserved {
				previous, err := ledger.GetProcessedResult(ctx, key)
				if err != nil {
					log.Warn("Failed to read previous result",
						logger.CtxField(ctx),
						logger.String("operation", operation),
						logger.Error(err))
				}
				if m != nil {
					m.RecordDuplicate(operation)
				}
				return nil, errors.New(errors.ErrDuplicateOperation, "operation has already been processed").
					WithData(previous)
			}

			// запись журнала не должна зависеть от отключения клиента
			ledgerCtx := context.WithoutCancel(ctx)

			// резерв снимается при ошибке и при панике обработчика
			completed := false
			defer func() {
				if completed {
					return
				}
				if err := ledger.Release(ledgerCtx, key); err != nil {
					log.Warn("Failed to release idempotency key",
						logger.CtxField(ctx),
						logger.String("operation", operation),
						logger.Error(err))
				}
			}()

			resp, err := next(r.WithContext(context.WithValue(ctx, idempotencyKey{}, key)))
			if err != nil {
				return nil, err
			}
			completed = true

			var result interface{}
			if resp != nil {
				result = resp.Data
			}
			if err := ledger.MarkAsProcessed(ledgerCtx, key, result); err != nil {
				log.Warn("Failed to mark operation as processed",
					logger.CtxField(ctx),
					logger.String("operation", operation),
					logger.Error(err))
			}

			return resp, nil
		}
	}
}

// Package events публикует доменные события сервиса в RabbitMQ.
// Публикация не блокирует запрос: ошибки логируются, событие теряется
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"AuthPlatform/internal/domain"
	"AuthPlatform/pkg/logger"
)

// Ключи маршрутизации событий
const (
	UserRegistered = "user.registered"
	UserUpdated    = "user.updated"
)

// Event конверт события
type Event struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Payload       interface{} `json:"payload"`
}

// UserPayload данные профиля в событии
type UserPayload struct {
	UserID string      `json:"userId"`
	AuthID string      `json:"authId"`
	Name   string      `json:"name"`
	Role   domain.Role `json:"role"`
}

// NewUserPayload собирает данные события из профиля
func NewUserPayload(user *domain.User) UserPayload {
	return UserPayload{
		UserID: user.ID,
		AuthID: user.AuthID,
		Name:   user.Name,
		Role:   user.Role,
	}
}

// Publisher публикует событие без ожидания результата
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{})
}

// Sender отправляет готовое сообщение брокеру. Ему удовлетворяет rabbitmq.Producer
type Sender interface {
	Publish(ctx context.Context, routingKey string, body []byte, headers map[string]interface{}) error
}

// NopPublisher отбрасывает события, когда брокер выключен
type NopPublisher struct{}

// Publish ничего не делает
func (NopPublisher) Publish(context.Context, string, interface{}) {}

type message struct {
	routingKey string
	body       []byte
	headers    map[string]interface{}
}

// AsyncPublisher буферизует события и отправляет их из одной горутины
type AsyncPublisher struct {
	sender  Sender
	log     logger.Logger
	onDrop  func()
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan message
	done   chan struct{}
}

// NewAsyncPublisher создает издателя и запускает отправку.
// onDrop вызывается для каждого потерянного события
func NewAsyncPublisher(sender Sender, bufferSize int, log logger.Logger, onDrop func()) *AsyncPublisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if onDrop == nil {
		onDrop = func() {}
	}
	p := &AsyncPublisher{
		sender:  sender,
		log:     log,
		onDrop:  onDrop,
		timeout: 5 * time.Second,
		queue:   make(chan message, bufferSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish ставит событие в очередь. Полная очередь или закрытый издатель
// означают потерю события
func (p *AsyncPublisher) Publish(ctx context.Context, eventType string, payload interface{}) {
	correlationID := logger.CorrelationID(ctx)
	body, err := json.Marshal(&Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	})
	if err != nil {
		p.drop(ctx, eventType, err.Error())
		return
	}

	msg := message{routingKey: eventType, body: body}
	if correlationID != "" {
		msg.headers = map[string]interface{}{"x-correlation-id": correlationID}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(ctx, eventType, "publisher is closed")
		return
	}

	select {
	case p.queue <- msg:
	default:
		p.drop(ctx, eventType, "event buffer is full")
	}
}

// Close прекращает прием событий и ждет отправки буфера
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)

	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.sender.Publish(ctx, msg.routingKey, msg.body, msg.headers)
		cancel()
		if err != nil {
			p.log.Warn("Failed to publish event",
				logger.String("event", msg.routingKey),
				logger.Error(err))
			p.onDrop()
			continue
		}
		p.log.Debug("Event published", logger.String("event", msg.routingKey))
	}
}

func (p *AsyncPublisher) drop(ctx context.Context, eventType, reason string) {
	p.log.Warn("Event dropped",
		logger.CtxField(ctx),
		logger.String("event", eventType),
		logger.String("reason", reason))
	p.onDrop()
}

package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"AuthPlatform/pkg/connection"
)

// Connection представляет подключение к RabbitMQ с каналом в режиме подтверждений
type Connection struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Config представляет конфигурацию RabbitMQ
type Config struct {
	URL            string
	Exchange       string
	ConfirmTimeout time.Duration
	Retry          connection.RetryConfig
}

// NewConfig создает конфигурацию по умолчанию
func NewConfig(url, exchange string) *Config {
	return &Config{
		URL:            url,
		Exchange:       exchange,
		ConfirmTimeout: 5 * time.Second,
		Retry:          connection.DefaultRetryConfig(),
	}
}

// Connect устанавливает подключение, объявляет topic exchange и включает confirm mode
func Connect(ctx context.Context, config *Config) (*Connection, error) {
	c := &Connection{}

	err := connection.WithRetry(ctx, config.Retry, func(ctx context.Context) error {
		conn, err := amqp091.Dial(config.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}

		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to open channel: %w", err)
		}

		if err := channel.ExchangeDeclare(config.Exchange, "topic", true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to declare exchange %s: %w", config.Exchange, err)
		}

		if err := channel.Confirm(false); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to enable confirm mode: %w", err)
		}

		c.conn = conn
		c.channel = channel
		return nil
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Close закрывает подключение к RabbitMQ
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var connErr, channelErr error
	if c.channel != nil {
		channelErr = c.channel.Close()
	}
	if c.conn != nil {
		connErr = c.conn.Close()
	}
	if channelErr != nil {
		return channelErr
	}
	return connErr
}

// Channel возвращает канал для использования
func (c *Connection) Channel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

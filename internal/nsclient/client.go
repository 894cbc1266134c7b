// Пакет nsclient — HTTP-клиент namespace для удаления записей файлов
// при отмене привязок и обходе истёкших файлов.
// Операция: DeleteEntry (DELETE /api/v1/entries?id=...&path=...).
package nsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bigkaa/goartstore/space-manager/internal/httpclient"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

// Параметры повтора при недоступности namespace.
const (
	defaultRetries        = 2
	defaultInitialBackoff = 200 * time.Millisecond
)

// Client — HTTP-клиент namespace.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	retries        uint64
	initialBackoff time.Duration
	logger         *slog.Logger
}

// New создаёт клиент namespace. Пустой baseURL — удаление записей отключено.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient, err := httpclient.New(caCertPath, 0, logger)
	if err != nil {
		return nil, fmt.Errorf("клиент namespace: %w", err)
	}
	return &Client{
		baseURL:        httpclient.NormalizeURL(baseURL),
		httpClient:     httpClient,
		retries:        defaultRetries,
		initialBackoff: defaultInitialBackoff,
		logger:         logger.With(slog.String("component", "ns_client")),
	}, nil
}

// errRetryable — ответ, после которого запрос можно повторить.
var errRetryable = errors.New("namespace временно недоступен")

// DeleteEntry удаляет запись namespace по идентификатору или пути.
// Отсутствующая запись возвращается ошибкой, оборачивающей service.ErrNotFound.
// Ошибки сети и ответы 5xx повторяются.
func (c *Client) DeleteEntry(ctx context.Context, namespaceID, path string) error {
	if c.baseURL == "" {
		return nil
	}
	if namespaceID == "" && path == "" {
		return fmt.Errorf("%w: не указан ни namespace_id, ни путь", service.ErrValidation)
	}

	query := url.Values{}
	if namespaceID != "" {
		query.Set("id", namespaceID)
	}
	if path != "" {
		query.Set("path", path)
	}
	reqURL := c.baseURL + "/api/v1/entries?" + query.Encode()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialBackoff
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.retries), ctx)

	return backoff.RetryNotify(func() error {
		err := c.doDelete(ctx, reqURL)
		if err == nil || errors.Is(err, errRetryable) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		c.logger.Warn("Повтор удаления записи namespace",
			slog.String("namespace_id", namespaceID),
			slog.String("path", path),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})
}

func (c *Client) doDelete(ctx context.Context, reqURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return fmt.Errorf("создание запроса DeleteEntry: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", errRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: запись namespace", service.ErrNotFound)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: статус %d: %s", errRetryable, resp.StatusCode, string(body))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("namespace вернул статус %d: %s", resp.StatusCode, string(body))
	}
}

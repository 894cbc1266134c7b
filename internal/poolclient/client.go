// Пакет poolclient — HTTP-клиент pool manager для подсказки выбора link group.
// Операция: NarrowCandidates (POST /api/v1/link-groups/select).
package poolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/space-manager/internal/httpclient"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

// requestTimeout — подсказка не должна задерживать резервирование.
const requestTimeout = 5 * time.Second

// selectRequest — тело запроса подсказки.
type selectRequest struct {
	ProtocolInfo   string            `json:"protocol_info"`
	FileAttributes map[string]string `json:"file_attributes,omitempty"`
	Candidates     []string          `json:"candidates"`
}

// selectResponse — подмножество кандидатов, подходящих для записи.
type selectResponse struct {
	LinkGroups []string `json:"link_groups"`
}

// Client — HTTP-клиент pool manager.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент pool manager. Пустой baseURL — подсказка не запрашивается,
// кандидаты возвращаются без изменений.
func New(baseURL, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient, err := httpclient.New(caCertPath, requestTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("клиент pool manager: %w", err)
	}
	return &Client{
		baseURL:    httpclient.NormalizeURL(baseURL),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "pool_client")),
	}, nil
}

// NarrowCandidates возвращает подмножество candidates, куда pool manager
// направит запись с протоколом protocolInfo. Ответ 403 оборачивает
// service.ErrAuthorization, остальные ошибки вызывающий может игнорировать.
func (c *Client) NarrowCandidates(ctx context.Context, protocolInfo string, fileAttributes map[string]string, candidates []string) ([]string, error) {
	if c.baseURL == "" {
		return candidates, nil
	}

	body, err := json.Marshal(selectRequest{
		ProtocolInfo:   protocolInfo,
		FileAttributes: fileAttributes,
		Candidates:     candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("кодирование запроса подсказки: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/link-groups/select", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса подсказки: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос подсказки к pool manager: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: pool manager: %s", service.ErrAuthorization, string(msg))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("pool manager вернул статус %d: %s", resp.StatusCode, string(msg))
	}

	var out selectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("декодирование ответа pool manager: %w", err)
	}

	c.logger.Debug("Подсказка pool manager получена",
		slog.String("protocol", protocolInfo),
		slog.Int("candidates", len(candidates)),
		slog.Int("selected", len(out.LinkGroups)),
	)
	return out.LinkGroups, nil
}

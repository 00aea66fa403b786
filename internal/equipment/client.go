// Package equipment предоставляет клиент реестра оборудования
// (велосипеды и замки).
package equipment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mmeshcher/bikerent-system/internal/model"
)

const fallbackBicycleID = 123

// Client инкапсулирует HTTP-взаимодействие с реестром оборудования.
//
// Поведение при недоступности реестра задаётся флагом fallback: при
// включённом флаге сетевые ошибки и 5xx на проверке доступности
// подменяются синтетическим доступным велосипедом, при выключенном —
// возвращаются как ошибка. Ответы 4xx в любом режиме означают, что
// велосипеда в замке нет.
type Client struct {
	baseURL    string
	httpClient *http.Client
	fallback   bool
}

// bicycleResponse описывает ответ реестра по одному велосипеду.
type bicycleResponse struct {
	ID     int64  `json:"id"`
	Model  string `json:"modelo"`
	Status string `json:"status"`
}

// NewClient создаёт HTTP-клиент реестра оборудования по указанному адресу.
func NewClient(baseURL string, timeout time.Duration, fallback bool) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	return &Client{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: rc.StandardClient(),
		fallback:   fallback,
	}
}

func normalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

// BicycleAtLock возвращает велосипед, находящийся в указанном замке,
// либо nil, если замок пуст или велосипеда нет.
func (c *Client) BicycleAtLock(ctx context.Context, lockID int64) (*model.Bicycle, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("equipment client not configured")
	}

	url := fmt.Sprintf("%s/tranca/%d/bicicleta", c.baseURL, lockID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.fallback {
			return syntheticBicycle(), nil
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// 4xx означает ошибку валидации на стороне реестра, не деградацию.
		return nil, nil
	default:
		if c.fallback {
			return syntheticBicycle(), nil
		}
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result bicycleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &model.Bicycle{
		ID:     result.ID,
		Model:  result.Model,
		Status: model.BicycleStatus(result.Status),
	}, nil
}

// syntheticBicycle возвращает заглушку доступного велосипеда для режима
// деградации при недоступном реестре.
func syntheticBicycle() *model.Bicycle {
	return &model.Bicycle{
		ID:     fallbackBicycleID,
		Model:  "fallback",
		Status: model.BicycleStatusAvailable,
	}
}

// Unlock открывает указанный замок.
func (c *Client) Unlock(ctx context.Context, lockID int64) error {
	url := fmt.Sprintf("%s/tranca/%d/destrancar", c.baseURL, lockID)
	return c.post(ctx, url, nil)
}

// Lock закрывает замок с указанным велосипедом.
func (c *Client) Lock(ctx context.Context, lockID, bicycleID int64) error {
	url := fmt.Sprintf("%s/tranca/%d/trancar", c.baseURL, lockID)
	body := map[string]int64{"bicicleta": bicycleID}
	return c.post(ctx, url, body)
}

// SetBicycleStatus изменяет статус велосипеда в реестре.
func (c *Client) SetBicycleStatus(ctx context.Context, bicycleID int64, status model.BicycleStatus) error {
	url := fmt.Sprintf("%s/bicicleta/%d/status/%s", c.baseURL, bicycleID, status)
	return c.post(ctx, url, nil)
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("equipment client not configured")
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

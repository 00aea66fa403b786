// Package externo предоставляет клиент внешнего сервиса платежей и
// уведомлений.
package externo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/bikerent-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с внешним сервисом.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// chargeResponse описывает ответ внешнего сервиса по одному платежу.
type chargeResponse struct {
	ID          int64     `json:"id"`
	Status      string    `json:"status"`
	Value       float64   `json:"valor"`
	RiderID     int64     `json:"ciclista"`
	RequestedAt time.Time `json:"horaSolicitacao"`
}

type chargeRequest struct {
	Value   float64 `json:"valor"`
	RiderID int64   `json:"ciclista"`
}

type emailRequest struct {
	Email   string `json:"email"`
	Subject string `json:"assunto"`
	Body    string `json:"mensagem"`
}

type cardRequest struct {
	Number       string `json:"numero"`
	Validity     string `json:"validade"`
	SecurityCode string `json:"cvv"`
}

// NewClient создаёт HTTP-клиент внешнего сервиса по указанному адресу.
func NewClient(baseURL string, timeout time.Duration) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Charge выполняет немедленное списание указанной суммы с велосипедиста.
// Сумма передаётся в копейках, на провод уходит в денежных единицах.
func (c *Client) Charge(ctx context.Context, amountCents, riderID int64) (*model.Charge, error) {
	return c.postCharge(ctx, "/cobranca", amountCents, riderID)
}

// EnqueueCharge ставит списание в очередь внешнего сервиса. Используется
// для доплат при возврате.
func (c *Client) EnqueueCharge(ctx context.Context, amountCents, riderID int64) (*model.Charge, error) {
	return c.postCharge(ctx, "/filaCobranca", amountCents, riderID)
}

func (c *Client) postCharge(ctx context.Context, path string, amountCents, riderID int64) (*model.Charge, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("externo client not configured")
	}

	payload := chargeRequest{
		Value:   float64(amountCents) / 100,
		RiderID: riderID,
	}

	resp, err := c.postJSON(ctx, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &model.Charge{
		ID:          result.ID,
		Status:      model.ChargeStatus(result.Status),
		ValueCents:  int64(math.Round(result.Value * 100)),
		RiderID:     result.RiderID,
		RequestedAt: result.RequestedAt,
	}, nil
}

// SendEmail отправляет письмо через внешний сервис.
func (c *Client) SendEmail(ctx context.Context, email, subject, body string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("externo client not configured")
	}

	payload := emailRequest{
		Email:   email,
		Subject: subject,
		Body:    body,
	}

	resp, err := c.postJSON(ctx, c.baseURL+"/enviarEmail", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

// ValidateCard проверяет платёжные данные во внешнем сервисе. Ответ 422
// означает отклонённую карту, прочие ошибки возвращаются как есть.
func (c *Client) ValidateCard(ctx context.Context, number, validity, securityCode string) (bool, error) {
	if c == nil || c.baseURL == "" {
		return false, fmt.Errorf("externo client not configured")
	}

	payload := cardRequest{
		Number:       number,
		Validity:     validity,
		SecurityCode: securityCode,
	}

	resp, err := c.postJSON(ctx, c.baseURL+"/validaCartaoDeCredito", payload)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return false, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return true, nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	return resp, nil
}

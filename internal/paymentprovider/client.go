// Package paymentprovider реализует HTTP-клиент платёжного провайдера:
// создание checkout-сессий подписок и разовых списаний за контент.
package paymentprovider

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Client клиент API платёжного провайдера.
type Client struct {
	shopID     string
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт новый клиент провайдера.
func NewClient(shopID, secretKey, apiURL string) *Client {
	return &Client{
		shopID:     shopID,
		secretKey:  secretKey,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) newRequest(method, path, idempotenceKey string, body interface{}) (*http.Request, error) {
	url := c.apiURL + path
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return nil, err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.shopID + ":" + c.secretKey))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return errors.New("unexpected status: " + resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateCharge отправляет запрос на разовое списание за покупку контента.
// Провайдер дедуплицирует списания по заголовку Idempotence-Key:
// повторный запрос с тем же ключом возвращает исходное списание,
// а не создаёт новое.
func (c *Client) CreateCharge(reqParams CreateChargeRequest, idempotenceKey string) (*CreateChargeResponse, error) {
	req, err := c.newRequest("POST", "/payments", idempotenceKey, reqParams)
	if err != nil {
		return nil, err
	}

	var chargeResp CreateChargeResponse
	if err := c.do(req, &chargeResp); err != nil {
		return nil, err
	}
	return &chargeResp, nil
}

// CreateCheckoutSession создаёт checkout-сессию оформления подписки
// и возвращает URL подтверждения для редиректа клиента.
func (c *Client) CreateCheckoutSession(reqParams CreateCheckoutSessionRequest, idempotenceKey string) (*CreateCheckoutSessionResponse, error) {
	req, err := c.newRequest("POST", "/checkout/sessions", idempotenceKey, reqParams)
	if err != nil {
		return nil, err
	}

	var sessionResp CreateCheckoutSessionResponse
	if err := c.do(req, &sessionResp); err != nil {
		return nil, err
	}
	return &sessionResp, nil
}

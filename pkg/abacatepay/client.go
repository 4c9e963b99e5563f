// Package abacatepay is a small client for the AbacatePay PIX API.
package abacatepay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/pkg/apperror"
)

// Client talks to AbacatePay. Every failure is returned as an
// *apperror.Error of kind External, except SimulatePixPayment outside
// development which is Forbidden.
type Client struct {
	baseURL    string
	apiKey     string
	allowSim   bool
	httpClient *http.Client
	log        *logrus.Logger
	now        func() time.Time
}

type Options struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	AllowSimulation bool
	HTTPClient      *http.Client
	Logger          *logrus.Logger
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		allowSim:   opts.AllowSimulation,
		httpClient: hc,
		log:        log,
		now:        time.Now,
	}
}

func (c *Client) CreateCustomer(ctx context.Context, cust Customer) (*CustomerResult, error) {
	var env envelope[customerData]
	if err := c.post(ctx, "/customer/create", cust, &env); err != nil {
		return nil, err
	}
	if env.Data == nil || env.Data.ID == "" || (env.Success != nil && !*env.Success) {
		return nil, apperror.External("abacatepay: create customer returned no id: "+errorText(env.Error), 0, nil)
	}
	return &CustomerResult{ID: env.Data.ID}, nil
}

func (c *Client) CreatePixQrCode(ctx context.Context, req PixChargeRequest) (*PixCharge, error) {
	if req.ExpiresInMinutes <= 0 {
		req.ExpiresInMinutes = 30
	}
	body := pixCreateBody{
		Amount:      req.Amount,
		ExpiresIn:   req.ExpiresInMinutes * 60,
		Description: req.Description,
		Customer:    req.Customer,
		Metadata:    req.Metadata,
	}
	var env envelope[pixData]
	if err := c.post(ctx, "/pixQrCode/create", body, &env); err != nil {
		return nil, err
	}
	if env.Data == nil || env.Data.ID == "" || (env.Success != nil && !*env.Success) {
		return nil, apperror.External("abacatepay: create pix returned no id: "+errorText(env.Error), 0, nil)
	}
	if env.Data.BrCode == "" {
		return nil, apperror.External("abacatepay: create pix returned no brCode", 0, nil)
	}

	expiresAt := c.now().Add(time.Duration(req.ExpiresInMinutes) * time.Minute).UTC()
	if env.Data.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, env.Data.ExpiresAt)
		if err != nil {
			return nil, apperror.External("abacatepay: invalid expiresAt "+env.Data.ExpiresAt, 0, err)
		}
		expiresAt = t
	}
	amount := env.Data.Amount
	if amount == 0 {
		amount = req.Amount
	}
	return &PixCharge{
		ID:        env.Data.ID,
		PixCode:   env.Data.BrCode,
		PixQrCode: env.Data.BrCodeBase64,
		Amount:    amount,
		ExpiresAt: expiresAt,
	}, nil
}

// SimulatePixPayment marks a charge as paid on the provider sandbox.
func (c *Client) SimulatePixPayment(ctx context.Context, chargeID string) error {
	if !c.allowSim {
		return apperror.Forbidden("payment simulation is only available in development")
	}
	if chargeID == "" {
		return apperror.Validation("charge id is required")
	}
	path := "/pixQrCode/simulate-payment?id=" + url.QueryEscape(chargeID)
	var env envelope[json.RawMessage]
	return c.post(ctx, path, map[string]any{"metadata": map[string]string{}}, &env)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return apperror.Internal("abacatepay: encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return apperror.Internal("abacatepay: build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := c.now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Warn("abacatepay request failed")
		return apperror.External("abacatepay: request failed", 0, err)
	}
	defer func() { _ = res.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return apperror.External("abacatepay: read response", 0, err)
	}
	c.log.WithFields(logrus.Fields{
		"path":        path,
		"status":      res.StatusCode,
		"duration_ms": c.now().Sub(start).Milliseconds(),
	}).Debug("abacatepay response")

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var env envelope[json.RawMessage]
		_ = json.Unmarshal(raw, &env)
		msg := errorText(env.Error)
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return apperror.External(fmt.Sprintf("abacatepay: %s: %s", path, msg), res.StatusCode, nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperror.External("abacatepay: decode response", 0, err)
	}
	return nil
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

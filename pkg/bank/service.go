// Package bank is the client for the external settlement collaborator. The
// settlement protocol itself is opaque to this service: the connector posts a
// settle request and reads back whether the transfer landed.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Settler is the settlement boundary consumed by the settlement consumer.
type Settler interface {
	Settle(ctx context.Context, in *SettleRequest, out *SettleResponse) error
}

// Settler interface implementation
var _ Settler = (*Connector)(nil)

type Connector struct {
	apiURL     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

func (c *Connector) LoggerComponent() string {
	return "Bank.Connector"
}

func NewConnector(apiURL string, opts ...ConnectorOption) (*Connector, error) {
	c := &Connector{
		apiURL:     apiURL,
		httpClient: http.DefaultClient,
		logger:     log.Logger,
	}

	for _, o := range opts {
		o(c)
	}

	c.logger = c.logger.With().Str("component", c.LoggerComponent()).Logger()
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "bank-settle",
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return c, nil
}

type ConnectorOption func(*Connector)

func WithLogger(l zerolog.Logger) ConnectorOption {
	return func(c *Connector) {
		c.logger = l
	}
}

func WithHTTPClient(hc *http.Client) ConnectorOption {
	return func(c *Connector) {
		c.httpClient = hc
	}
}

// Settle method of Settler implementation
func (c *Connector) Settle(ctx context.Context, in *SettleRequest, out *SettleResponse) error {
	l := c.logger.With().
		Str("method", "Settle").
		Str("transaction_id", in.TransactionID).
		Str("external_bank", in.ExternalBank).
		Logger()
	ctx = l.WithContext(ctx)

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.genericCall(ctx, http.MethodPost, "/api/settlements", in, out)
	})
	if err != nil {
		return err
	}

	l.Debug().Bool("settled", out.Settled).Str("reference", out.Reference).Msg("Settle done")

	return nil
}

type RemoteError struct {
	ResponseBody string
	StatusCode   int
}

func NewRemoteError(responseBody string, statusCode int) *RemoteError {
	return &RemoteError{ResponseBody: responseBody, StatusCode: statusCode}
}

func (e *RemoteError) Error() string {
	return e.ResponseBody
}

func (c *Connector) genericCall(ctx context.Context, method, endpoint string, in interface{}, out interface{}) error {
	l := zerolog.Ctx(ctx).With().Str("http_method", method).Str("endpoint", endpoint).Logger()
	ctx = l.WithContext(ctx)

	res, err := c.request(ctx, method, endpoint, in)
	if err != nil {
		l.Error().Err(err).Msg("Connector request failed")
		return fmt.Errorf("request: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode >= 400 {
		resBody := readString(res.Body)
		l.Error().
			Str("http_body", resBody).
			Msg("Connector responded with error")
		return NewRemoteError(resBody, res.StatusCode)
	}

	if err := readJSON(res.Body, out); err != nil {
		return fmt.Errorf("body read: %w", err)
	}

	return nil
}

func (c *Connector) request(ctx context.Context, method, endpoint string, bodyParams interface{}) (*http.Response, error) {
	fullURL := c.apiURL + endpoint
	l := zerolog.Ctx(ctx).With().Str("url", fullURL).Logger()

	rawJSON, err := json.Marshal(bodyParams)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(rawJSON))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")

	l.Debug().Str("request_body", string(rawJSON)).Msg("Doing request")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	return res, nil
}

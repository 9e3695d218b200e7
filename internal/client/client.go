package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"videoterror/internal/dao"
	"videoterror/internal/rpc"
	"videoterror/internal/version"
	"videoterror/pkg/log"
)

const DefaultDeadline = 5000 * time.Millisecond

var ErrTransport = errors.New("transport error")

type TransportErrorKind string

const (
	// KindConnect means the request never got an answer.
	KindConnect TransportErrorKind = "connect"
	// KindStatus means the server answered with a non-200 status.
	KindStatus TransportErrorKind = "status"
	// KindMalformed means the answer does not fit the response schema.
	KindMalformed TransportErrorKind = "malformed"
)

type TransportError struct {
	Op     string
	Kind   TransportErrorKind
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s: server answered %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Client calls the operations of a video analytics server. One Client may be
// shared; its calls are sent one at a time.
type Client struct {
	baseUrl  string
	httpCli  *http.Client
	deadline time.Duration
	secret   string
	eager    bool
	mu       sync.Mutex
	logger   *logrus.Entry
}

type Option func(c *Client)

// WithDeadline sets how long a call waits for its answer.
func WithDeadline(d time.Duration) Option {
	return func(c *Client) {
		c.deadline = d
	}
}

func WithHTTPClient(httpCli *http.Client) Option {
	return func(c *Client) {
		c.httpCli = httpCli
	}
}

// WithToken signs every call with a bearer token minted from secret.
func WithToken(secret string) Option {
	return func(c *Client) {
		c.secret = secret
	}
}

// WithEagerConnect makes NewClient ping the server before returning.
func WithEagerConnect() Option {
	return func(c *Client) {
		c.eager = true
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient targets conn, one of tcp://host:port, http://host:port or
// https://host:port. Connections are dialed on the first call unless
// WithEagerConnect is given.
func NewClient(conn string, opts ...Option) (*Client, error) {
	baseUrl, err := parseConn(conn)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseUrl:  baseUrl,
		deadline: DefaultDeadline,
		logger:   log.NewLogger().WithField("component", "client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpCli == nil {
		c.httpCli = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if c.eager {
		if err := c.Ping(context.Background()); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func parseConn(conn string) (string, error) {
	u, err := url.Parse(conn)
	if err != nil {
		return "", fmt.Errorf("invalid connection string %q: %w", conn, err)
	}
	switch u.Scheme {
	case "tcp":
		u.Scheme = "http"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid connection string %q: unsupported scheme %q", conn, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid connection string %q: missing host", conn)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

func (c *Client) Endpoint() string {
	return c.baseUrl
}

func (c *Client) Close() {
	c.httpCli.CloseIdleConnections()
}

// Ping checks that the server answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return &TransportError{Op: "ping", Kind: KindConnect, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "ping", Kind: KindStatus, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return nil
}

type callOptions struct {
	deadline time.Duration
}

type CallOption func(o *callOptions)

// WithCallDeadline overrides the client deadline for one call.
func WithCallDeadline(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.deadline = d
	}
}

// Call resolves name, encodes props into its request, sends it and returns
// the decoded response. Unknown names and encoding failures are reported
// before anything is sent.
func (c *Client) Call(ctx context.Context, name string, props map[string]any, opts ...CallOption) (map[string]any, error) {
	op, err := rpc.Lookup(name)
	if err != nil {
		return nil, err
	}
	req, err := rpc.Encode(op, props)
	if err != nil {
		return nil, err
	}
	reply := op.NewResponse()
	if err := c.send(ctx, op, req, reply, opts...); err != nil {
		return nil, err
	}
	return rpc.Decode(reply)
}

func (c *Client) token() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    version.APP,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	})
	return token.SignedString([]byte(c.secret))
}

// send posts req and fills reply. A call that outlives its deadline fills
// reply with the no-answer result and returns nil.
func (c *Client) send(ctx context.Context, op rpc.Operation, req any, reply dao.Reply, opts ...CallOption) error {
	o := callOptions{deadline: c.deadline}
	for _, opt := range opts {
		opt(&o)
	}

	props, err := rpc.Decode(req)
	if err != nil {
		return err
	}
	body, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseUrl+op.Path(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		token, err := c.token()
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debugf("call %s", op.Name())
	noAnswer := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			c.logger.Warnf("%s: no answer within %s", op.Name(), o.deadline)
			reply.SetResult(&dao.RequestResult{Success: false, Error: dao.ErrNoAnswer})
			return nil
		}
		return &TransportError{Op: op.Name(), Kind: KindConnect, Err: err}
	}

	resp, err := c.httpCli.Do(httpReq)
	if err != nil {
		return noAnswer(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return noAnswer(err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &TransportError{Op: op.Name(), Kind: KindStatus, Status: resp.StatusCode, Err: errors.New(msg)}
	}

	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return &TransportError{Op: op.Name(), Kind: KindMalformed, Err: err}
	}
	if _, ok := out["res"].(map[string]any); !ok {
		return &TransportError{Op: op.Name(), Kind: KindMalformed, Err: errors.New("response carries no result")}
	}
	built, err := rpc.Build(op.ResponseType(), out)
	if err != nil {
		return &TransportError{Op: op.Name(), Kind: KindMalformed, Err: err}
	}
	reflect.ValueOf(reply).Elem().Set(reflect.ValueOf(built).Elem())
	return nil
}

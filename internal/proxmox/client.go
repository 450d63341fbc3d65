// Package proxmox is the Proxmox VE adapter: HTTPS JSON calls against
// /api2/json and command execution inside LXC guests over node SSH.
package proxmox

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/proximity/internal/metrics"
)

// Tickets are valid for two hours; refresh a little earlier.
const ticketLifetime = 100 * time.Minute

// Config describes how to reach one Proxmox host.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	VerifyTLS bool
	RootCAs   *x509.CertPool
	// TokenID and TokenSecret select API token auth instead of tickets.
	TokenID     string
	TokenSecret string
	Timeout     time.Duration
	// BaseURL overrides https://Host:Port/api2/json (tests).
	BaseURL string
	SSHPort int
}

// Client talks to one Proxmox host.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	exec       Executor
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	ticket   string
	csrf     string
	ticketAt time.Time

	addrMu    sync.Mutex
	nodeAddrs map[string]string
}

// NewClient returns a client for cfg. exec runs guest commands; it may be nil
// for callers that never use ExecuteInContainer.
func NewClient(cfg Config, exec Executor, logger zerolog.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 8006
	}
	if cfg.SSHPort == 0 {
		cfg.SSHPort = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s:%d/api2/json", cfg.Host, cfg.Port)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: !cfg.VerifyTLS,
		RootCAs:            cfg.RootCAs,
	}

	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		exec:       exec,
		logger:     logger.With().Str("component", "proxmox-client").Str("proxmox_host", cfg.Host).Logger(),
		now:        time.Now,
		nodeAddrs:  map[string]string{},
	}
}

type envelope struct {
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

// do performs one API call. GET and DELETE send params in the query string,
// POST and PUT as a form body. A non-nil out receives the "data" member.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, out any) error {
	err := c.doOnce(ctx, op, method, path, params, out)
	if KindOf(err) == KindAuth && c.cfg.TokenID == "" {
		// The ticket expired server-side; log in again once.
		c.resetTicket()
		err = c.doOnce(ctx, op, method, path, params, out)
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	metrics.ProxmoxRequestsTotal.WithLabelValues(method, outcome).Inc()
	return err
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, params url.Values, out any) error {
	req, err := c.newRequest(ctx, method, path, params)
	if err != nil {
		return &Error{Kind: KindRemote, Op: op, Err: err}
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(op, err)
	}

	var env envelope
	_ = json.Unmarshal(body, &env)

	if resp.StatusCode >= 300 {
		msg := errorMessage(resp, env, body)
		return &Error{Kind: classifyMessage(resp.StatusCode, msg), Op: op, Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Kind: KindRemote, Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values) (*http.Request, error) {
	u := c.baseURL + path
	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
	default:
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// errorMessage extracts the most specific error text Proxmox returned. The
// reason phrase of the status line usually carries it.
func errorMessage(resp *http.Response, env envelope, body []byte) string {
	var parts []string
	if env.Message != "" {
		parts = append(parts, strings.TrimSpace(env.Message))
	} else if reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode))); reason != "" && reason != http.StatusText(resp.StatusCode) {
		parts = append(parts, reason)
	}
	for field, msg := range env.Errors {
		parts = append(parts, field+": "+strings.TrimSpace(msg))
	}
	if len(parts) == 0 {
		if len(env.Data) == 0 && len(body) > 0 {
			return strings.TrimSpace(string(body))
		}
		return http.StatusText(resp.StatusCode)
	}
	return strings.Join(parts, "; ")
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.cfg.TokenID != "" {
		req.Header.Set("Authorization", fmt.Sprintf("PVEAPIToken=%s=%s", c.cfg.TokenID, c.cfg.TokenSecret))
		return nil
	}

	ticket, csrf, err := c.ensureTicket(ctx)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: ticket})
	if req.Method != http.MethodGet {
		req.Header.Set("CSRFPreventionToken", csrf)
	}
	return nil
}

func (c *Client) ensureTicket(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ticket != "" && c.now().Sub(c.ticketAt) < ticketLifetime {
		return c.ticket, c.csrf, nil
	}

	form := url.Values{"username": {c.cfg.User}, "password": {c.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/access/ticket", strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", &Error{Kind: KindRemote, Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", transportError("login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", "", &Error{Kind: KindAuth, Op: "login", Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var env struct {
		Data struct {
			Ticket string `json:"ticket"`
			CSRF   string `json:"CSRFPreventionToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", "", &Error{Kind: KindRemote, Op: "login", Err: fmt.Errorf("decode ticket: %w", err)}
	}
	if env.Data.Ticket == "" {
		return "", "", &Error{Kind: KindAuth, Op: "login", Message: "empty ticket"}
	}

	c.ticket, c.csrf, c.ticketAt = env.Data.Ticket, env.Data.CSRF, c.now()
	c.logger.Debug().Str("user", c.cfg.User).Msg("obtained proxmox ticket")
	return c.ticket, c.csrf, nil
}

func (c *Client) resetTicket() {
	c.mu.Lock()
	c.ticket = ""
	c.mu.Unlock()
}

// Version returns the API version and doubles as a connectivity check.
func (c *Client) Version(ctx context.Context) (Version, error) {
	var v Version
	err := c.do(ctx, "get version", http.MethodGet, "/version", nil, &v)
	return v, err
}

// ListNodes returns every cluster node with its memory and CPU usage.
// Authentication failures are reported as connection errors.
func (c *Client) ListNodes(ctx context.Context) ([]NodeInfo, error) {
	var nodes []NodeInfo
	err := c.do(ctx, "list nodes", http.MethodGet, "/nodes", nil, &nodes)
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindAuth {
		pe.Kind = KindConnection
	}
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// ListVMIDs returns the VMIDs of every guest in the cluster.
func (c *Client) ListVMIDs(ctx context.Context) ([]int, error) {
	var resources []clusterResource
	if err := c.do(ctx, "list cluster resources", http.MethodGet, "/cluster/resources", url.Values{"type": {"vm"}}, &resources); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(resources))
	for _, r := range resources {
		if r.VMID > 0 {
			ids = append(ids, r.VMID)
		}
	}
	return ids, nil
}

// NodeAddress resolves the IP address of a cluster node for SSH, falling
// back to the configured host.
func (c *Client) NodeAddress(ctx context.Context, node string) string {
	c.addrMu.Lock()
	addr, ok := c.nodeAddrs[node]
	c.addrMu.Unlock()
	if ok {
		return addr
	}

	var entries []clusterStatusEntry
	if err := c.do(ctx, "get cluster status", http.MethodGet, "/cluster/status", nil, &entries); err != nil {
		c.logger.Warn().Err(err).Str("node", node).Msg("cluster status unavailable, using host address")
		return c.cfg.Host
	}

	c.addrMu.Lock()
	defer c.addrMu.Unlock()
	for _, e := range entries {
		if e.Type == "node" && e.IP != "" {
			c.nodeAddrs[e.Name] = e.IP
		}
	}
	if addr, ok := c.nodeAddrs[node]; ok {
		return addr
	}
	return c.cfg.Host
}

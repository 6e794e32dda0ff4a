package node

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const handshakePath = "/web/handshake"

type handshakeRequest struct {
	ClientPublicKey string `json:"clientPublicKey"`
	Challenge       string `json:"challenge"`
}

type handshakeResponse struct {
	ServerPublicKey  string `json:"serverPublicKey"`
	NetworkPublicKey string `json:"networkPublicKey"`
	LatestBlockhash  string `json:"latestBlockhash"`
}

// HandshakeClient connects by handshaking with each configured node and
// adopting the block hash most nodes agree on.
type HandshakeClient struct {
	network       string
	urls          []string
	minHandshakes int
	http          *http.Client

	mu        sync.RWMutex
	ready     bool
	blockhash string
}

// NewHandshakeClient builds a client for the node URLs of network.
func NewHandshakeClient(network string, urls []string, minHandshakes int, httpClient *http.Client) *HandshakeClient {
	if minHandshakes <= 0 {
		minHandshakes = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HandshakeClient{network: network, urls: urls, minHandshakes: minHandshakes, http: httpClient}
}

func (c *HandshakeClient) Network() string { return c.network }

func (c *HandshakeClient) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *HandshakeClient) LatestBlockhash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockhash
}

// Connect handshakes with every node concurrently and succeeds when at least
// minHandshakes of them answer.
func (c *HandshakeClient) Connect(ctx context.Context) error {
	if len(c.urls) < c.minHandshakes {
		return fmt.Errorf("%s: %d node urls configured, %d handshakes required", c.network, len(c.urls), c.minHandshakes)
	}

	type result struct {
		url  string
		resp handshakeResponse
		err  error
	}
	results := make(chan result, len(c.urls))
	for _, u := range c.urls {
		go func(u string) {
			resp, err := c.handshake(ctx, u)
			results <- result{url: u, resp: resp, err: err}
		}(u)
	}

	votes := make(map[string]int)
	var errs []string
	ok := 0
	for range c.urls {
		r := <-results
		if r.err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.url, r.err))
			continue
		}
		ok++
		if r.resp.LatestBlockhash != "" {
			votes[r.resp.LatestBlockhash]++
		}
	}
	if ok < c.minHandshakes {
		return fmt.Errorf("%s: %d handshakes succeeded, %d required: %s", c.network, ok, c.minHandshakes, strings.Join(errs, "; "))
	}
	blockhash := ""
	best := 0
	for h, n := range votes {
		if n > best || (n == best && h < blockhash) {
			blockhash, best = h, n
		}
	}
	if blockhash == "" {
		return fmt.Errorf("%s: no node reported a latest block hash", c.network)
	}

	c.mu.Lock()
	c.ready = true
	c.blockhash = blockhash
	c.mu.Unlock()
	return nil
}

func (c *HandshakeClient) handshake(ctx context.Context, baseURL string) (handshakeResponse, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return handshakeResponse{}, err
	}
	body, err := json.Marshal(handshakeRequest{ClientPublicKey: "test", Challenge: hex.EncodeToString(challenge)})
	if err != nil {
		return handshakeResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+handshakePath, bytes.NewReader(body))
	if err != nil {
		return handshakeResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return handshakeResponse{}, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return handshakeResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return handshakeResponse{}, fmt.Errorf("handshake status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var out handshakeResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return handshakeResponse{}, fmt.Errorf("decode handshake: %w", err)
	}
	return out, nil
}

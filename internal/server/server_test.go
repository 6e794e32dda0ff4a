package server

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/pkp-relay/internal/config"
	"github.com/congo-pay/pkp-relay/internal/contracts"
	"github.com/congo-pay/pkp-relay/internal/ledger"
	"github.com/congo-pay/pkp-relay/internal/logging"
)

const holderKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dataset, err := contracts.LoadDataset("")
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	entry := dataset.Networks["datil"]
	backend := ledger.NewInMemory(ledger.InMemoryConfig{
		NFT:    common.HexToAddress(entry.Contracts[string(contracts.RoleRegistry)]),
		Helper: common.HexToAddress(entry.Contracts[string(contracts.RoleHelper)]),
	})
	signer, err := ledger.NewSigner(holderKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	cfg := config.Config{
		AppName:                "PKPRelay",
		AppEnv:                 "development",
		GasLimitPercent:        200,
		GasLimitBaseDefault:    7159600,
		MintTimeout:            5 * time.Second,
		ReceiptPollInterval:    time.Millisecond,
		MintRatePerMinute:      5,
		ConnectMaxAttempts:     1,
		ConnectInitialInterval: time.Millisecond,
		ConnectTimeout:         time.Second,
		CapacityTokenID:        "157000",
		CapacityRatePerSecond:  10,
		CapacityExpiresAt:      time.UnixMilli(1743616200700),
		DelegationUses:         1,
		DelegationTTL:          2 * time.Minute,
		IdempotencyTTL:         time.Minute,
	}
	srv, err := New(cfg, dataset, backend, signer, nil, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, payload
}

func TestHealthAndPing(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, srv, "GET", "/healthz", "")
	if status != 200 || !strings.Contains(string(body), `"ledger":"ok"`) {
		t.Fatalf("unexpected health %d %s", status, body)
	}
	status, body = do(t, srv, "GET", "/api/v1/ping", "")
	if status != 200 || !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("unexpected ping %d %s", status, body)
	}
}

func TestMintThroughHTTP(t *testing.T) {
	srv := newTestServer(t)

	body := `{"network":"datil","authMethod":{"authMethodType":1,"accessToken":"{\"address\":\"0x1111111111111111111111111111111111111111\"}"}}`
	status, payload := do(t, srv, "POST", "/mint-pkp", body)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, payload)
	}
	var out struct {
		PKP struct {
			TokenID    string `json:"tokenId"`
			PublicKey  string `json:"publicKey"`
			EthAddress string `json:"ethAddress"`
		} `json:"pkp"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.PKP.TokenID == "" || out.PKP.PublicKey == "" || !common.IsHexAddress(out.PKP.EthAddress) {
		t.Fatalf("unexpected record %+v", out.PKP)
	}

	status, payload = do(t, srv, "POST", "/mint", `{"network":"cayenne","authMethod":{"authMethodType":1,"accessToken":"{\"address\":\"0x1\"}"}}`)
	if status != 400 || !strings.Contains(string(payload), `"error"`) {
		t.Fatalf("expected 400 error body, got %d: %s", status, payload)
	}
}

func TestCapacityAndNetworks(t *testing.T) {
	srv := newTestServer(t)

	status, payload := do(t, srv, "GET", "/networks", "")
	if status != 200 || !strings.Contains(string(payload), `"state":"uninitialized"`) {
		t.Fatalf("unexpected networks %d %s", status, payload)
	}

	status, payload = do(t, srv, "POST", "/capacity-credits", `{"network":"datil","walletAddress":"0x000000000000000000000000000000000000D00D"}`)
	if status != 200 || !strings.Contains(string(payload), "capacityDelegationAuthSig") {
		t.Fatalf("unexpected delegation %d %s", status, payload)
	}

	_, payload = do(t, srv, "GET", "/networks", "")
	if !strings.Contains(string(payload), `{"name":"datil","state":"connected"}`) {
		t.Fatalf("expected datil connected after delegation, got %s", payload)
	}
}

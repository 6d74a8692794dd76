package huobi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	appconfig "liqrelay/config"
)

const (
	DefaultContractsURL = "https://api.hbdm.com/linear-swap-api/v1/swap_contract_info"
	DefaultQuoteSuffix  = "-USDT"

	contractListed = 1
)

// PairSource lists the contracts currently trading with the configured quote
// suffix.
type PairSource struct {
	url    string
	suffix string
	client *http.Client
}

func NewPairSource(cfg appconfig.HuobiConfig) *PairSource {
	return newPairSource(cfg, &http.Client{
		Timeout:   10 * time.Second,
		Transport: userAgentTransport{agent: "liqrelay/1.0"},
	})
}

func newPairSource(cfg appconfig.HuobiConfig, client *http.Client) *PairSource {
	url := strings.TrimSpace(cfg.ContractsURL)
	if url == "" {
		url = DefaultContractsURL
	}
	suffix := cfg.QuoteSuffix
	if suffix == "" {
		suffix = DefaultQuoteSuffix
	}
	return &PairSource{url: url, suffix: strings.ToUpper(suffix), client: client}
}

// Fetch returns the sorted contract codes, e.g. "BTC-USDT".
func (p *PairSource) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch huobi contracts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("fetch huobi contracts: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Status string `json:"status"`
		ErrMsg string `json:"err_msg"`
		Data   []struct {
			ContractCode   string `json:"contract_code"`
			ContractStatus int    `json:"contract_status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode huobi contracts: %w", err)
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("huobi contracts: status %q: %s", payload.Status, payload.ErrMsg)
	}

	seen := make(map[string]struct{}, len(payload.Data))
	codes := make([]string, 0, len(payload.Data))
	for _, c := range payload.Data {
		code := strings.ToUpper(strings.TrimSpace(c.ContractCode))
		if c.ContractStatus != contractListed || !strings.HasSuffix(code, p.suffix) {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

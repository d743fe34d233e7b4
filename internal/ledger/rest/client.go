// Package rest is a ledger.Client for nodes exposing the REST transaction API.
package rest

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

var standardNetworks = map[string]string{
	"mainnet": "https://fullnode.mainnet.aptoslabs.com/v1",
	"testnet": "https://fullnode.testnet.aptoslabs.com/v1",
	"devnet":  "https://fullnode.devnet.aptoslabs.com/v1",
	"local":   "http://127.0.0.1:8080/v1",
}

// NetworkURL resolves the node URL for a network name. The custom network
// uses customURL.
func NetworkURL(network, customURL string) (string, error) {
	network = strings.ToLower(strings.TrimSpace(network))
	if network == "" || network == "custom" {
		if strings.TrimSpace(customURL) == "" {
			return "", fmt.Errorf("custom network requires a node URL")
		}
		return customURL, nil
	}
	u, ok := standardNetworks[network]
	if !ok {
		return "", fmt.Errorf("unknown network %q", network)
	}
	return u, nil
}

type Config struct {
	BaseURL      string
	PrivateKey   ed25519.PrivateKey
	PollInterval time.Duration
	MaxGasAmount uint64
	GasUnitPrice uint64
	// TxTTL bounds how long a submitted transaction stays valid.
	TxTTL      time.Duration
	HTTPClient *http.Client
}

// Client signs with a single account. Submits are serialized so sequence
// numbers stay contiguous.
type Client struct {
	baseURL      *url.URL
	http         *http.Client
	key          ed25519.PrivateKey
	address      string
	pollInterval time.Duration
	maxGas       uint64
	gasPrice     uint64
	txTTL        time.Duration
	logger       logger.Logger
	now          func() time.Time

	mu      sync.Mutex
	nextSeq *uint64
}

func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid node URL %q", cfg.BaseURL)
	}
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxGasAmount == 0 {
		cfg.MaxGasAmount = 200000
	}
	if cfg.GasUnitPrice == 0 {
		cfg.GasUnitPrice = 100
	}
	if cfg.TxTTL <= 0 {
		cfg.TxTTL = 10 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	pub := cfg.PrivateKey.Public().(ed25519.PublicKey)
	return &Client{
		baseURL:      u,
		http:         cfg.HTTPClient,
		key:          cfg.PrivateKey,
		address:      ledger.AddressFromPublicKey(pub),
		pollInterval: cfg.PollInterval,
		maxGas:       cfg.MaxGasAmount,
		gasPrice:     cfg.GasUnitPrice,
		txTTL:        cfg.TxTTL,
		logger:       log,
		now:          time.Now,
	}, nil
}

// KeyFromSeed parses a hex ed25519 seed (32 bytes) or full private key (64 bytes).
func KeyFromSeed(s string) (ed25519.PrivateKey, error) {
	b, err := ledger.DecodeHex(s)
	if err != nil {
		return nil, err
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

// Address is the signing account.
func (c *Client) Address() string {
	return c.address
}

func (c *Client) Submit(ctx context.Context, tx ledger.Transaction) (*ledger.PendingTransaction, error) {
	args := make([]json.RawMessage, 0, len(tx.Arguments))
	for i, a := range tx.Arguments {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode argument %d", i)
		}
		args = append(args, b)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.sequenceNumber(ctx)
	if err != nil {
		return nil, err
	}

	raw := ledger.RawTransaction{
		Sender:                  c.address,
		SequenceNumber:          seq,
		MaxGasAmount:            c.maxGas,
		GasUnitPrice:            c.gasPrice,
		ExpirationTimestampSecs: uint64(c.now().Add(c.txTTL).Unix()),
		Payload: ledger.EntryFunctionPayload{
			Type:      "entry_function_payload",
			Function:  tx.Function,
			Arguments: args,
		},
	}
	msg, err := ledger.SigningMessage(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build signing message")
	}
	sig := ed25519.Sign(c.key, msg)

	req := ledger.SubmitTransactionRequest{
		RawTransaction: raw,
		Signature: ledger.Signature{
			Type:      "ed25519_signature",
			PublicKey: ledger.EncodeHex(c.key.Public().(ed25519.PublicKey)),
			Signature: ledger.EncodeHex(sig),
		},
	}

	var pending ledger.PendingTransaction
	if err := c.do(ctx, http.MethodPost, "/transactions", req, &pending); err != nil {
		c.nextSeq = nil
		return nil, err
	}
	next := seq + 1
	c.nextSeq = &next

	if want := ledger.TransactionHash(msg, sig); pending.Hash != want {
		c.logger.Warn("Node returned unexpected transaction hash", map[string]interface{}{
			"expected": want,
			"got":      pending.Hash,
		})
	}
	return &pending, nil
}

func (c *Client) sequenceNumber(ctx context.Context) (uint64, error) {
	if c.nextSeq != nil {
		return *c.nextSeq, nil
	}
	var acct ledger.AccountView
	err := c.do(ctx, http.MethodGet, "/accounts/"+c.address, nil, &acct)
	if errors.Is(err, ledger.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read account sequence number")
	}
	return acct.SequenceNumber, nil
}

// AwaitFinality polls the transaction until it is committed. The wait is
// bounded only by ctx; a passed deadline yields ledger.ErrTimeout.
func (c *Client) AwaitFinality(ctx context.Context, hash string) (*ledger.Finality, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var view ledger.TransactionView
		err := c.do(ctx, http.MethodGet, "/transactions/by_hash/"+hash, nil, &view)
		switch {
		case err == nil && view.Type != ledger.TxTypePending:
			if !view.Success {
				return nil, fmt.Errorf("%w: %s", ledger.ErrRejected, view.VMStatus)
			}
			return &ledger.Finality{
				Hash:         view.Hash,
				Version:      view.Version,
				BlockHeight:  view.BlockHeight,
				StateRoot:    view.StateRootHash,
				GasUsed:      view.GasUsed,
				GasUnitPrice: view.GasUnitPrice,
				Success:      true,
				VMStatus:     view.VMStatus,
				Timestamp:    time.UnixMicro(int64(view.TimestampUsec)).UTC(),
			}, nil
		case err == nil, errors.Is(err, ledger.ErrNotFound):
			// Not committed yet.
		case ctx.Err() == nil:
			c.logger.Warn("Transaction status check failed", map[string]interface{}{
				"tx_hash": hash,
				"error":   err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ledger.ErrTimeout, hash)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) ReadResource(ctx context.Context, address, resourceType string) (json.RawMessage, error) {
	var res ledger.ResourceView
	path := fmt.Sprintf("/accounts/%s/resource/%s", ledger.NormalizeAddress(address), url.PathEscape(resourceType))
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Ping checks that the node answers its index endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ledger.ErrNotFound, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ev ledger.ErrorView
		if json.Unmarshal(data, &ev) == nil && ev.Message != "" {
			return fmt.Errorf("ledger: %s %s: %d %s (%s)", method, path, resp.StatusCode, ev.Message, ev.ErrorCode)
		}
		return fmt.Errorf("ledger: %s %s: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

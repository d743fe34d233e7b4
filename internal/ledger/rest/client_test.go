package rest

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/internal/ledger/simnode"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
	"github.com/arhansuba/zr-don-pay/pkg/logger/loggertest"
)

const (
	testSeed     = "0x0101010101010101010101010101010101010101010101010101010101010101"
	testFunction = "0x1::OracleNetwork::submitData"
	testChannel  = "0x1::OracleNetwork::DataSubmitted"
	testResource = "0x1::OracleNetwork::DataStore"
)

func newTestClient(t *testing.T, cfg simnode.Config) (*Client, *simnode.Node) {
	t.Helper()
	node := simnode.New(cfg, logger.NewNop())
	srv := httptest.NewServer(node.Router())
	t.Cleanup(srv.Close)

	key, err := KeyFromSeed(testSeed)
	require.NoError(t, err)
	c, err := NewClient(Config{
		BaseURL:      srv.URL + "/v1",
		PrivateKey:   key,
		PollInterval: 10 * time.Millisecond,
	}, loggertest.New())
	require.NoError(t, err)
	return c, node
}

func oracleTx(requestID string, data string) ledger.Transaction {
	return ledger.Transaction{
		Function:  testFunction,
		Arguments: []interface{}{requestID, json.RawMessage(data)},
	}
}

func TestSubmit_AwaitFinalityAfterPolls(t *testing.T) {
	c, _ := newTestClient(t, simnode.Config{ConfirmAfterPolls: 2})
	ctx := context.Background()

	pending, err := c.Submit(ctx, oracleTx("1", `{"value":42}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pending.Hash, "0x"))
	assert.Equal(t, c.Address(), pending.Sender)
	assert.Equal(t, uint64(0), pending.SequenceNumber)

	fin, err := c.AwaitFinality(ctx, pending.Hash)
	require.NoError(t, err)
	assert.Equal(t, pending.Hash, fin.Hash)
	assert.True(t, fin.Success)
	assert.Equal(t, uint64(1), fin.Version)
	assert.NotEmpty(t, fin.StateRoot)
	assert.Equal(t, uint64(100), fin.GasUnitPrice)
	assert.NotEmpty(t, fin.Marker())
	assert.False(t, fin.Timestamp.IsZero())

	raw, err := c.ReadResource(ctx, c.Address(), testResource)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"value":42`)
}

func TestSubmit_SequenceNumbersAdvance(t *testing.T) {
	c, _ := newTestClient(t, simnode.Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pending, err := c.Submit(ctx, oracleTx("1", `{}`))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), pending.SequenceNumber)
	}
}

func TestSubmit_ResyncsSequenceAfterRejection(t *testing.T) {
	c, node := newTestClient(t, simnode.Config{})
	ctx := context.Background()
	other, err := NewClient(Config{BaseURL: c.baseURL.String(), PrivateKey: c.key}, logger.NewNop())
	require.NoError(t, err)

	_, err = c.Submit(ctx, oracleTx("1", `{}`))
	require.NoError(t, err)
	_, err = other.Submit(ctx, oracleTx("2", `{}`))
	require.NoError(t, err)

	// c still believes the next sequence number is 1.
	_, err = c.Submit(ctx, oracleTx("3", `{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), simnode.StatusSequenceTooOld)

	pending, err := c.Submit(ctx, oracleTx("3", `{}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pending.SequenceNumber)

	acct, ok := node.Account(c.Address())
	require.True(t, ok)
	assert.Equal(t, uint64(3), acct.SequenceNumber)
}

func TestAwaitFinality_Rejected(t *testing.T) {
	c, node := newTestClient(t, simnode.Config{})
	node.RejectFunction(testFunction, "ABORTED")
	ctx := context.Background()

	pending, err := c.Submit(ctx, oracleTx("1", `{}`))
	require.NoError(t, err)

	_, err = c.AwaitFinality(ctx, pending.Hash)
	assert.ErrorIs(t, err, ledger.ErrRejected)
	assert.Contains(t, err.Error(), "ABORTED")
}

func TestAwaitFinality_DeadlineIsTimeout(t *testing.T) {
	c, node := newTestClient(t, simnode.Config{})
	node.Freeze()

	pending, err := c.Submit(context.Background(), oracleTx("1", `{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.AwaitFinality(ctx, pending.Hash)
	assert.ErrorIs(t, err, ledger.ErrTimeout)
}

func TestAwaitFinality_CancelIsNotTimeout(t *testing.T) {
	c, node := newTestClient(t, simnode.Config{})
	node.Freeze()

	pending, err := c.Submit(context.Background(), oracleTx("1", `{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err = c.AwaitFinality(ctx, pending.Hash)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ledger.ErrTimeout)
}

func TestAwaitFinality_UnknownHashKeepsPolling(t *testing.T) {
	c, _ := newTestClient(t, simnode.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_, err := c.AwaitFinality(ctx, "0xdeadbeef")
	assert.ErrorIs(t, err, ledger.ErrTimeout)
}

func TestReadResource_NotFound(t *testing.T) {
	c, _ := newTestClient(t, simnode.Config{})

	_, err := c.ReadResource(context.Background(), "0x1", testResource)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSubscribe_DeliversCommittedEvents(t *testing.T) {
	c, node := newTestClient(t, simnode.Config{})
	ctx := context.Background()

	received := make(chan ledger.Event, 1)
	sub, err := c.Subscribe(ctx, testChannel, ledger.HandlerFunc(func(_ context.Context, ev ledger.Event) error {
		received <- ev
		return nil
	}))
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { return node.Subscribers(testChannel) == 1 }, time.Second, 5*time.Millisecond)

	pending, err := c.Submit(ctx, oracleTx("7", `{"value":42}`))
	require.NoError(t, err)
	require.Equal(t, 1, node.CommitPending())

	select {
	case ev := <-received:
		assert.Equal(t, testChannel, ev.Channel)
		assert.Equal(t, pending.Hash, ev.TxHash)
		assert.Contains(t, string(ev.Data), `"request_id":"7"`)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribe_CloseStopsDelivery(t *testing.T) {
	c, node := newTestClient(t, simnode.Config{})

	sub, err := c.Subscribe(context.Background(), testChannel, ledger.HandlerFunc(func(context.Context, ledger.Event) error {
		return nil
	}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return node.Subscribers(testChannel) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not done after Close")
	}
	assert.NoError(t, sub.Err())
	assert.Eventually(t, func() bool { return node.Subscribers(testChannel) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSubscribe_ContextCancelEndsSubscription(t *testing.T) {
	c, _ := newTestClient(t, simnode.Config{})
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := c.Subscribe(ctx, testChannel, ledger.HandlerFunc(func(context.Context, ledger.Event) error {
		return nil
	}))
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not done after cancel")
	}
	assert.ErrorIs(t, sub.Err(), context.Canceled)
}

func TestNetworkURL(t *testing.T) {
	u, err := NetworkURL("testnet", "")
	require.NoError(t, err)
	assert.Equal(t, "https://fullnode.testnet.aptoslabs.com/v1", u)

	u, err = NetworkURL("custom", "http://localhost:9000/v1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/v1", u)

	_, err = NetworkURL("custom", "")
	assert.Error(t, err)
	_, err = NetworkURL("moonnet", "")
	assert.Error(t, err)
}

func TestKeyFromSeed(t *testing.T) {
	key, err := KeyFromSeed(testSeed)
	require.NoError(t, err)

	full, err := KeyFromSeed(ledger.EncodeHex(key))
	require.NoError(t, err)
	assert.Equal(t, key, full)

	_, err = KeyFromSeed("0x0102")
	assert.Error(t, err)
	_, err = KeyFromSeed("not-hex")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, simnode.Config{})
	require.NoError(t, c.Ping(context.Background()))

	down, err := NewClient(Config{BaseURL: "http://127.0.0.1:1/v1", PrivateKey: c.key}, loggertest.New())
	require.NoError(t, err)
	assert.Error(t, down.Ping(context.Background()))
}

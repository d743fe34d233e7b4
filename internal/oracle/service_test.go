package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/events"
	"github.com/arhansuba/zr-don-pay/internal/fetcher"
	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/internal/ledger/rest"
	"github.com/arhansuba/zr-don-pay/internal/ledger/simnode"
	"github.com/arhansuba/zr-don-pay/internal/repository/memory"
	"github.com/arhansuba/zr-don-pay/internal/submitter"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
	"github.com/arhansuba/zr-don-pay/pkg/logger/loggertest"
	"github.com/arhansuba/zr-don-pay/pkg/validator"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, sourceURI string, opts domain.FetchOptions) (domain.Payload, bool) {
	args := m.Called(ctx, sourceURI, opts)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(domain.Payload), args.Bool(1)
}

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, requestID uint64, sourceURI string, payload domain.Payload) (*domain.SubmissionReceipt, error) {
	args := m.Called(ctx, requestID, sourceURI, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SubmissionReceipt), args.Error(1)
}

const sourceURI = "https://api.example.com/data"

func TestRun_AbsenceSkipsSubmission(t *testing.T) {
	f := new(MockFetcher)
	s := new(MockSubmitter)
	f.On("Fetch", mock.Anything, sourceURI, mock.Anything).Return(nil, false)
	svc := NewService(f, s, nil, validator.New(), logger.NewNop())

	receipt, err := svc.Run(context.Background(), RunRequest{RequestID: 1, SourceURI: sourceURI, Options: domain.DefaultFetchOptions()})

	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, errors.ErrNoData)
	s.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_SubmitsFetchedPayload(t *testing.T) {
	f := new(MockFetcher)
	s := new(MockSubmitter)
	payload := domain.Payload(`{"value":42}`)
	want := &domain.SubmissionReceipt{OperationHandle: "0xabc", FinalityMarker: "1:0xroot"}
	f.On("Fetch", mock.Anything, sourceURI, mock.Anything).Return(payload, true)
	s.On("Submit", mock.Anything, uint64(1), sourceURI, payload).Return(want, nil).Once()
	svc := NewService(f, s, nil, validator.New(), logger.NewNop())

	receipt, err := svc.Run(context.Background(), RunRequest{RequestID: 1, SourceURI: sourceURI})

	require.NoError(t, err)
	assert.Equal(t, want, receipt)
	s.AssertExpectations(t)
}

func TestRun_PropagatesSubmitError(t *testing.T) {
	f := new(MockFetcher)
	s := new(MockSubmitter)
	f.On("Fetch", mock.Anything, sourceURI, mock.Anything).Return(domain.Payload(`{}`), true)
	s.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.Join(errors.ErrEmitFailed, errors.New("boom")))
	svc := NewService(f, s, nil, validator.New(), logger.NewNop())

	_, err := svc.Run(context.Background(), RunRequest{RequestID: 1, SourceURI: sourceURI})

	assert.ErrorIs(t, err, errors.ErrEmitFailed)
}

func TestRun_InvalidRequest(t *testing.T) {
	f := new(MockFetcher)
	svc := NewService(f, new(MockSubmitter), nil, validator.New(), logger.NewNop())

	_, err := svc.Run(context.Background(), RunRequest{RequestID: 1, SourceURI: "ftp://x"})

	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
	f.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func TestData(t *testing.T) {
	f := new(MockFetcher)
	f.On("Fetch", mock.Anything, sourceURI, mock.Anything).Return(domain.Payload(`{"value":1}`), true).Once()
	f.On("Fetch", mock.Anything, "https://down.example.com", mock.Anything).Return(nil, false).Once()
	svc := NewService(f, nil, nil, validator.New(), logger.NewNop())

	payload, err := svc.Data(context.Background(), sourceURI, domain.DefaultFetchOptions())
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":1}`, string(payload))

	_, err = svc.Data(context.Background(), "https://down.example.com", domain.DefaultFetchOptions())
	assert.ErrorIs(t, err, errors.ErrNoData)

	_, err = svc.Data(context.Background(), "", domain.DefaultFetchOptions())
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

// TestRun_EndToEnd drives the whole workflow against a flaky source and the
// simulated node.
func TestRun_EndToEnd(t *testing.T) {
	var hits int32
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"value": 42}`))
	}))
	defer source.Close()

	node := simnode.New(simnode.Config{ConfirmAfterPolls: 2, EventDelay: 300 * time.Millisecond}, logger.NewNop())
	nodeSrv := httptest.NewServer(node.Router())
	defer nodeSrv.Close()

	key, err := rest.KeyFromSeed("0x0202020202020202020202020202020202020202020202020202020202020202")
	require.NoError(t, err)
	client, err := rest.NewClient(rest.Config{BaseURL: nodeSrv.URL + "/v1", PrivateKey: key, PollInterval: 10 * time.Millisecond}, logger.NewNop())
	require.NoError(t, err)

	log := loggertest.New()
	hub := events.NewHub(10, log)
	completions, release := hub.Subscribe(1)
	defer release()

	sub := submitter.NewService(client, memory.NewSubmissionRepository(), hub, submitter.Config{ModuleAddress: "0x1"}, log, nil)
	defer sub.Close()
	svc := NewService(fetcher.NewService(nil, nil, 0, log, nil), sub, client, validator.New(), log)

	receipt, err := svc.Run(context.Background(), RunRequest{
		RequestID: 1,
		SourceURI: source.URL,
		Options:   domain.FetchOptions{MaxRetries: 3, RetryDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.OperationHandle)
	assert.NotEmpty(t, receipt.FinalityMarker)
	assert.True(t, receipt.Listening)
	assert.Equal(t, 2, log.Count("Error fetching data"))

	data, err := svc.Resource(context.Background(), client.Address(), sub.ResourceType())
	require.NoError(t, err)
	var store struct {
		Entries map[string]json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &store))
	assert.JSONEq(t, `{"value":42}`, string(store.Entries["1"]))

	// The event is released after the listener subscribed.
	select {
	case ev := <-completions:
		assert.Equal(t, uint64(1), ev.RequestID)
		assert.Equal(t, receipt.SubmissionID, ev.SubmissionID)
		assert.Equal(t, receipt.OperationHandle, ev.OperationHandle)
	case <-time.After(2 * time.Second):
		t.Fatal("no completion event published")
	}
	assert.Equal(t, 1, log.Count("Data submitted event received"))
}

func TestResource(t *testing.T) {
	client := new(mockLedger)
	client.On("ReadResource", mock.Anything, "0x1", "0x1::OracleNetwork::DataStore").Return(json.RawMessage(`{"submissions":"1"}`), nil).Once()
	client.On("ReadResource", mock.Anything, "0x2", "0x1::OracleNetwork::DataStore").Return(nil, ledger.ErrNotFound).Once()
	svc := NewService(nil, nil, client, validator.New(), logger.NewNop())

	data, err := svc.Resource(context.Background(), "0x1", "0x1::OracleNetwork::DataStore")
	require.NoError(t, err)
	assert.JSONEq(t, `{"submissions":"1"}`, string(data))

	_, err = svc.Resource(context.Background(), "0x2", "0x1::OracleNetwork::DataStore")
	assert.ErrorIs(t, err, errors.ErrResourceNotFound)

	_, err = svc.Resource(context.Background(), "alice", "0x1::OracleNetwork::DataStore")
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
	_, err = svc.Resource(context.Background(), "0x1", "DataStore")
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

type mockLedger struct {
	mock.Mock
	ledger.Client
}

func (m *mockLedger) ReadResource(ctx context.Context, address, resourceType string) (json.RawMessage, error) {
	args := m.Called(ctx, address, resourceType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

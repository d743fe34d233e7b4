// Package simnode is an in-memory ledger node serving the REST transaction
// API. It verifies signatures and sequence numbers, commits transactions after
// a configurable number of status reads and executes the oracle module.
package simnode

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

const (
	oracleModule   = "OracleNetwork"
	submitDataFn   = "submitData"
	dataStoreName  = "DataStore"
	submittedEvent = "DataSubmitted"

	defaultGasUsed = 7
)

// VM statuses reported for failed transactions.
const (
	StatusExecuted           = "Executed successfully"
	StatusFunctionNotFound   = "FUNCTION_RESOLUTION_FAILURE"
	StatusInvalidArguments   = "NUMBER_OF_ARGUMENTS_MISMATCH"
	StatusOutOfGas           = "OUT_OF_GAS"
	StatusSequenceTooOld     = "SEQUENCE_NUMBER_TOO_OLD"
	StatusSequenceTooNew     = "SEQUENCE_NUMBER_TOO_NEW"
	StatusInvalidSignature   = "INVALID_SIGNATURE"
	StatusTransactionExpired = "TRANSACTION_EXPIRED"
)

type Config struct {
	// ConfirmAfterPolls is the number of status reads a pending transaction
	// survives before it is committed. Zero commits on the first read.
	ConfirmAfterPolls int
	// GasUsed is charged to every committed transaction.
	GasUsed uint64
	ChainID uint8
	// EventDelay holds committed events back from streams, the way an
	// indexer lags behind the chain head.
	EventDelay time.Duration
}

// Error is a rejection of a submitted transaction.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type account struct {
	sequenceNumber uint64
	authKey        string
	resources      map[string]json.RawMessage
}

type transaction struct {
	request   ledger.SubmitTransactionRequest
	view      ledger.TransactionView
	polls     int
	committed bool
}

// Node is the simulated chain. It is safe for concurrent use.
type Node struct {
	cfg    Config
	logger logger.Logger
	now    func() time.Time

	mu          sync.Mutex
	accounts    map[string]*account
	txIndex     map[string]*transaction
	pending     []string
	version     uint64
	blockHeight uint64
	stateRoot   string
	eventSeq    map[string]uint64
	rejections  map[string]string
	frozen      bool

	subscribers *broadcaster
}

func New(cfg Config, log logger.Logger) *Node {
	if cfg.GasUsed == 0 {
		cfg.GasUsed = defaultGasUsed
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 4
	}
	genesis := sha3.Sum256([]byte("genesis_state"))
	return &Node{
		cfg:         cfg,
		logger:      log,
		now:         time.Now,
		accounts:    make(map[string]*account),
		txIndex:     make(map[string]*transaction),
		stateRoot:   "0x" + hex.EncodeToString(genesis[:]),
		eventSeq:    make(map[string]uint64),
		rejections:  make(map[string]string),
		subscribers: newBroadcaster(log),
	}
}

// Freeze stops committing pending transactions until Unfreeze.
func (n *Node) Freeze() {
	n.mu.Lock()
	n.frozen = true
	n.mu.Unlock()
}

func (n *Node) Unfreeze() {
	n.mu.Lock()
	n.frozen = false
	n.mu.Unlock()
}

// RejectFunction makes every later execution of function fail with vmStatus.
func (n *Node) RejectFunction(function, vmStatus string) {
	n.mu.Lock()
	n.rejections[function] = vmStatus
	n.mu.Unlock()
}

// Info reports the chain head.
func (n *Node) Info() map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return map[string]string{
		"chain_id":       strconv.Itoa(int(n.cfg.ChainID)),
		"ledger_version": strconv.FormatUint(n.version, 10),
		"block_height":   strconv.FormatUint(n.blockHeight, 10),
		"node_role":      "full_node",
	}
}

// Account returns the account view, or false for an unknown account.
func (n *Node) Account(address string) (ledger.AccountView, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acct, ok := n.accounts[ledger.NormalizeAddress(address)]
	if !ok {
		return ledger.AccountView{}, false
	}
	return ledger.AccountView{SequenceNumber: acct.sequenceNumber, AuthenticationKey: acct.authKey}, true
}

// Resource returns a resource stored under address.
func (n *Node) Resource(address, resourceType string) (ledger.ResourceView, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acct, ok := n.accounts[ledger.NormalizeAddress(address)]
	if !ok {
		return ledger.ResourceView{}, false
	}
	data, ok := acct.resources[resourceType]
	if !ok {
		return ledger.ResourceView{}, false
	}
	return ledger.ResourceView{Type: resourceType, Data: append(json.RawMessage(nil), data...)}, true
}

// SubmitTransaction verifies a signed transaction and adds it to the
// mempool.
func (n *Node) SubmitTransaction(req ledger.SubmitTransactionRequest) (ledger.TransactionView, error) {
	pub, err := ledger.DecodeHex(req.Signature.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ledger.TransactionView{}, &Error{Status: 400, Code: "invalid_input", Message: "invalid public key"}
	}
	sig, err := ledger.DecodeHex(req.Signature.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ledger.TransactionView{}, &Error{Status: 400, Code: "invalid_input", Message: "invalid signature encoding"}
	}

	sender := ledger.NormalizeAddress(req.Sender)
	if ledger.AddressFromPublicKey(pub) != sender {
		return ledger.TransactionView{}, &Error{Status: 400, Code: "invalid_transaction_update", Message: "public key does not match sender"}
	}
	msg, err := ledger.SigningMessage(req.RawTransaction)
	if err != nil {
		return ledger.TransactionView{}, &Error{Status: 400, Code: "invalid_input", Message: err.Error()}
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ledger.TransactionView{}, &Error{Status: 400, Code: "vm_error", Message: StatusInvalidSignature}
	}
	if req.ExpirationTimestampSecs <= uint64(n.now().Unix()) {
		return ledger.TransactionView{}, &Error{Status: 400, Code: "vm_error", Message: StatusTransactionExpired}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	acct := n.accounts[sender]
	if acct == nil {
		acct = &account{authKey: sender, resources: make(map[string]json.RawMessage)}
		n.accounts[sender] = acct
	}
	switch {
	case req.SequenceNumber < acct.sequenceNumber:
		return ledger.TransactionView{}, &Error{Status: 400, Code: "vm_error", Message: StatusSequenceTooOld}
	case req.SequenceNumber > acct.sequenceNumber:
		return ledger.TransactionView{}, &Error{Status: 400, Code: "vm_error", Message: StatusSequenceTooNew}
	}
	acct.sequenceNumber++

	hash := ledger.TransactionHash(msg, sig)
	tx := &transaction{
		request: req,
		view: ledger.TransactionView{
			Type:           ledger.TxTypePending,
			Hash:           hash,
			Sender:         sender,
			SequenceNumber: req.SequenceNumber,
			GasUnitPrice:   req.GasUnitPrice,
		},
	}
	n.txIndex[hash] = tx
	n.pending = append(n.pending, hash)

	n.logger.Debug("Transaction accepted", map[string]interface{}{
		"tx_hash":         hash,
		"sender":          sender,
		"sequence_number": req.SequenceNumber,
		"function":        req.Payload.Function,
	})
	return tx.view, nil
}

// Transaction reports a transaction by hash. Each read of a pending
// transaction counts towards its commit.
func (n *Node) Transaction(hash string) (ledger.TransactionView, bool) {
	n.mu.Lock()
	tx, ok := n.txIndex[strings.ToLower(hash)]
	if !ok {
		n.mu.Unlock()
		return ledger.TransactionView{}, false
	}
	var events []ledger.EventView
	if !tx.committed && !n.frozen {
		tx.polls++
		if tx.polls > n.cfg.ConfirmAfterPolls {
			events = n.commitLocked(tx)
		}
	}
	view := tx.view
	n.mu.Unlock()

	n.dispatch(events)
	return view, true
}

// CommitPending commits every pending transaction regardless of polls.
func (n *Node) CommitPending() int {
	n.mu.Lock()
	var events []ledger.EventView
	count := 0
	for _, hash := range append([]string(nil), n.pending...) {
		if tx := n.txIndex[hash]; tx != nil && !tx.committed {
			events = append(events, n.commitLocked(tx)...)
			count++
		}
	}
	n.mu.Unlock()

	n.dispatch(events)
	return count
}

// Subscribe registers a sink for events on channel. The returned func
// removes it.
func (n *Node) Subscribe(channel string, sink chan<- ledger.EventView) func() {
	return n.subscribers.add(channel, sink)
}

func (n *Node) dispatch(events []ledger.EventView) {
	if len(events) == 0 {
		return
	}
	publish := func() {
		for _, ev := range events {
			n.subscribers.publish(ev)
		}
	}
	if n.cfg.EventDelay > 0 {
		time.AfterFunc(n.cfg.EventDelay, publish)
		return
	}
	publish()
}

func (n *Node) commitLocked(tx *transaction) []ledger.EventView {
	n.version++
	n.blockHeight++
	tx.committed = true
	n.removePendingLocked(tx.view.Hash)

	view := &tx.view
	view.Type = ledger.TxTypeUser
	view.Version = n.version
	view.BlockHeight = n.blockHeight
	view.GasUsed = n.cfg.GasUsed
	view.TimestampUsec = uint64(n.now().UnixMicro())

	events, status := n.executeLocked(tx)
	view.Success = status == StatusExecuted
	view.VMStatus = status
	if !view.Success {
		events = nil
	}
	view.Events = events
	n.stateRoot = n.computeStateRootLocked(view.Hash)
	view.StateRootHash = n.stateRoot

	n.logger.Info("Transaction committed", map[string]interface{}{
		"tx_hash":   view.Hash,
		"version":   view.Version,
		"success":   view.Success,
		"vm_status": view.VMStatus,
	})
	return events
}

func (n *Node) removePendingLocked(hash string) {
	for i, h := range n.pending {
		if h == hash {
			n.pending = append(n.pending[:i], n.pending[i+1:]...)
			return
		}
	}
}

func (n *Node) executeLocked(tx *transaction) ([]ledger.EventView, string) {
	payload := tx.request.Payload
	if status, ok := n.rejections[payload.Function]; ok {
		return nil, status
	}
	if tx.request.MaxGasAmount < n.cfg.GasUsed {
		return nil, StatusOutOfGas
	}

	module, name := splitFunction(payload.Function)
	if !strings.HasSuffix(module, oracleModule) || name != submitDataFn {
		return nil, StatusFunctionNotFound
	}
	if len(payload.Arguments) != 2 {
		return nil, StatusInvalidArguments
	}
	requestID, err := parseU64(payload.Arguments[0])
	if err != nil {
		return nil, StatusInvalidArguments
	}
	data := payload.Arguments[1]
	sender := tx.view.Sender

	n.storeSubmissionLocked(sender, module+"::"+dataStoreName, requestID, data)

	channel := module + "::" + submittedEvent
	body, _ := json.Marshal(map[string]interface{}{
		"request_id": strconv.FormatUint(requestID, 10),
		"data":       data,
		"sender":     sender,
		"tx_hash":    tx.view.Hash,
	})
	seq := n.eventSeq[channel]
	n.eventSeq[channel] = seq + 1
	return []ledger.EventView{{
		Type:           channel,
		SequenceNumber: seq,
		Version:        n.version,
		TxHash:         tx.view.Hash,
		Data:           body,
	}}, StatusExecuted
}

type dataStore struct {
	Submissions   uint64                     `json:"submissions,string"`
	LastRequestID uint64                     `json:"last_request_id,string"`
	Entries       map[string]json.RawMessage `json:"entries"`
}

func (n *Node) storeSubmissionLocked(address, resourceType string, requestID uint64, data json.RawMessage) {
	acct := n.accounts[address]
	store := dataStore{Entries: make(map[string]json.RawMessage)}
	if raw, ok := acct.resources[resourceType]; ok {
		_ = json.Unmarshal(raw, &store)
		if store.Entries == nil {
			store.Entries = make(map[string]json.RawMessage)
		}
	}
	store.Submissions++
	store.LastRequestID = requestID
	store.Entries[strconv.FormatUint(requestID, 10)] = data
	raw, _ := json.Marshal(store)
	acct.resources[resourceType] = raw
}

func (n *Node) computeStateRootLocked(txHash string) string {
	keys := make([]string, 0, len(n.accounts))
	for addr := range n.accounts {
		keys = append(keys, addr)
	}
	sort.Strings(keys)

	h := sha3.New256()
	h.Write([]byte(n.stateRoot))
	h.Write([]byte(txHash))
	for _, addr := range keys {
		h.Write([]byte(addr + ":" + strconv.FormatUint(n.accounts[addr].sequenceNumber, 10) + ";"))
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// splitFunction splits "addr::Module::fn" into "addr::Module" and "fn".
func splitFunction(function string) (string, string) {
	i := strings.LastIndex(function, "::")
	if i < 0 {
		return "", function
	}
	return function[:i], function[i+2:]
}

// parseU64 accepts a u64 encoded as a JSON string or number.
func parseU64(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseUint(s, 10, 64)
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// Subscribers reports how many streams are attached to channel.
func (n *Node) Subscribers(channel string) int {
	return n.subscribers.count(channel)
}

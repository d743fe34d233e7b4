package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Transaction types reported by GET /transactions/by_hash.
const (
	TxTypePending = "pending_transaction"
	TxTypeUser    = "user_transaction"
)

const rawTransactionSalt = "APTOS::RawTransaction"

// EntryFunctionPayload is the payload of an entry function call.
type EntryFunctionPayload struct {
	Type      string            `json:"type"`
	Function  string            `json:"function"`
	Arguments []json.RawMessage `json:"arguments"`
}

// RawTransaction is the unsigned transaction body.
type RawTransaction struct {
	Sender                  string               `json:"sender"`
	SequenceNumber          uint64               `json:"sequence_number,string"`
	MaxGasAmount            uint64               `json:"max_gas_amount,string"`
	GasUnitPrice            uint64               `json:"gas_unit_price,string"`
	ExpirationTimestampSecs uint64               `json:"expiration_timestamp_secs,string"`
	Payload                 EntryFunctionPayload `json:"payload"`
}

// Signature carries the ed25519 authenticator.
type Signature struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// SubmitTransactionRequest is the body of POST /transactions.
type SubmitTransactionRequest struct {
	RawTransaction
	Signature Signature `json:"signature"`
}

// TransactionView is returned by GET /transactions/by_hash/{hash}.
type TransactionView struct {
	Type           string      `json:"type"`
	Hash           string      `json:"hash"`
	Sender         string      `json:"sender"`
	SequenceNumber uint64      `json:"sequence_number,string"`
	Version        uint64      `json:"version,string,omitempty"`
	BlockHeight    uint64      `json:"block_height,string,omitempty"`
	StateRootHash  string      `json:"state_root_hash,omitempty"`
	GasUsed        uint64      `json:"gas_used,string,omitempty"`
	GasUnitPrice   uint64      `json:"gas_unit_price,string"`
	Success        bool        `json:"success"`
	VMStatus       string      `json:"vm_status,omitempty"`
	TimestampUsec  uint64      `json:"timestamp,string,omitempty"`
	Events         []EventView `json:"events,omitempty"`
}

// EventView is an event as serialized by the node.
type EventView struct {
	Type           string          `json:"type"`
	SequenceNumber uint64          `json:"sequence_number,string"`
	Version        uint64          `json:"version,string"`
	TxHash         string          `json:"transaction_hash"`
	Data           json.RawMessage `json:"data"`
}

// Event converts the wire form into an Event.
func (v EventView) Event() Event {
	return Event{
		Channel:        v.Type,
		SequenceNumber: v.SequenceNumber,
		Version:        v.Version,
		TxHash:         v.TxHash,
		Data:           v.Data,
	}
}

// AccountView is returned by GET /accounts/{address}.
type AccountView struct {
	SequenceNumber    uint64 `json:"sequence_number,string"`
	AuthenticationKey string `json:"authentication_key"`
}

// ResourceView is returned by GET /accounts/{address}/resource/{type}.
type ResourceView struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ErrorView is the node's error body.
type ErrorView struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

// SigningMessage returns the bytes an account signs for raw.
func SigningMessage(raw RawTransaction) ([]byte, error) {
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	prefix := sha3.Sum256([]byte(rawTransactionSalt))
	return append(prefix[:], body...), nil
}

// TransactionHash derives the transaction hash from the signed message.
func TransactionHash(signingMessage, signature []byte) string {
	h := sha3.New256()
	h.Write(signingMessage)
	h.Write(signature)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// AddressFromPublicKey derives the single-key account address.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	h := sha3.New256()
	h.Write(pub)
	h.Write([]byte{0x00})
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// DecodeHex accepts hex with or without a 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// EncodeHex returns 0x-prefixed lower-case hex.
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// NormalizeAddress lower-cases and 0x-prefixes an address.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return addr
}

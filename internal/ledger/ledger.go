// Package ledger defines the interface to the chain node the oracle writes to.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned by AwaitFinality when the wait deadline passes.
	ErrTimeout = errors.New("ledger: finality wait timed out")
	// ErrRejected is returned by AwaitFinality for a committed but failed transaction.
	ErrRejected = errors.New("ledger: transaction rejected")
	// ErrNotFound is returned when a resource or transaction is unknown to the node.
	ErrNotFound = errors.New("ledger: not found")
)

// Client is the fixed surface of a chain node. A single Client is
// constructed per process and shared.
type Client interface {
	// Submit signs the transaction and hands it to the node.
	Submit(ctx context.Context, tx Transaction) (*PendingTransaction, error)
	// AwaitFinality blocks until the transaction is committed.
	AwaitFinality(ctx context.Context, hash string) (*Finality, error)
	// Subscribe delivers events on channel to handler until the
	// subscription is closed or ctx is done.
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
	// ReadResource returns the JSON resource stored under an account.
	ReadResource(ctx context.Context, address, resourceType string) (json.RawMessage, error)
}

// Transaction is an entry function call.
type Transaction struct {
	Function  string        `json:"function"`
	Arguments []interface{} `json:"arguments"`
}

// PendingTransaction is the node's acknowledgement of a submitted transaction.
type PendingTransaction struct {
	Hash           string `json:"hash"`
	Sender         string `json:"sender"`
	SequenceNumber uint64 `json:"sequence_number"`
}

// Finality describes a committed transaction.
type Finality struct {
	Hash         string    `json:"hash"`
	Version      uint64    `json:"version"`
	BlockHeight  uint64    `json:"block_height"`
	StateRoot    string    `json:"state_root_hash"`
	GasUsed      uint64    `json:"gas_used"`
	GasUnitPrice uint64    `json:"gas_unit_price"`
	Success      bool      `json:"success"`
	VMStatus     string    `json:"vm_status"`
	Timestamp    time.Time `json:"timestamp"`
}

// Marker identifies the committed state of the transaction.
func (f *Finality) Marker() string {
	return fmt.Sprintf("%d:%s", f.Version, f.StateRoot)
}

// Event is a notification emitted by an executed transaction.
type Event struct {
	Channel        string          `json:"type"`
	SequenceNumber uint64          `json:"sequence_number"`
	Version        uint64          `json:"version"`
	TxHash         string          `json:"transaction_hash"`
	Data           json.RawMessage `json:"data"`
}

// Handler receives subscribed events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription is a live event subscription.
type Subscription interface {
	// Close unsubscribes. It is safe to call more than once.
	Close() error
	// Done is closed once the subscription stopped delivering events.
	Done() <-chan struct{}
	// Err reports why the subscription stopped, nil after Close.
	Err() error
}

// QualifiedName joins a module address and a member name the way the node
// expects. An empty module yields the bare name.
func QualifiedName(moduleAddress, name string) string {
	if moduleAddress == "" {
		return name
	}
	return moduleAddress + "::" + name
}

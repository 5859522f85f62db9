package vault

import (
	"fmt"
	"sort"
	"strings"

	"arrayledger/crypto"
)

// ProtocolCall is the uniform request handed to an external protocol. The
// engine passes the reserve through untouched; market indices, sub-accounts
// and similar details are the adapter's business.
type ProtocolCall struct {
	// Identity is the user's composite identity. Adapters act on its behalf
	// and never on behalf of the program admin.
	Identity crypto.Address
	// Signer is the program signer presenting Identity.
	Signer  crypto.Address
	Reserve string
	// Funds is the source of funds on deposit and the destination on
	// withdrawal.
	Funds  crypto.Address
	Mint   string
	Amount uint64
}

// ProtocolAdapter moves funds into and out of one external yield protocol.
// Any returned error is treated as a rejection by the protocol. Adapters
// write through store, so their effects commit or roll back with the
// surrounding operation.
type ProtocolAdapter interface {
	Protocol() string
	Deposit(store Storage, call ProtocolCall) error
	Withdraw(store Storage, call ProtocolCall) error
}

// RegisterAdapter makes a protocol available for routing.
func (e *Engine) RegisterAdapter(adapter ProtocolAdapter) error {
	if e == nil || adapter == nil {
		return fmt.Errorf("vault engine: adapter required")
	}
	name := strings.ToLower(strings.TrimSpace(adapter.Protocol()))
	if name == "" {
		return fmt.Errorf("vault engine: adapter protocol name required")
	}
	if e.adapters == nil {
		e.adapters = make(map[string]ProtocolAdapter)
	}
	if _, exists := e.adapters[name]; exists {
		return fmt.Errorf("vault engine: adapter %q already registered", name)
	}
	e.adapters[name] = adapter
	return nil
}

// Protocols lists the registered adapter names in sorted order.
func (e *Engine) Protocols() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.adapters))
	for name := range e.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) adapter(route Route) (ProtocolAdapter, error) {
	adapter, ok := e.adapters[route.Protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, route.Protocol)
	}
	return adapter, nil
}

func (e *Engine) callAdapter(op string, route Route, call ProtocolCall) error {
	adapter, err := e.adapter(route)
	if err != nil {
		return err
	}
	call.Reserve = route.Reserve
	if op == "withdraw" {
		err = adapter.Withdraw(e.state, call)
	} else {
		err = adapter.Deposit(e.state, call)
	}
	if err != nil {
		return &ExternalCallError{Protocol: route.Protocol, Reserve: route.Reserve, Op: op, Err: err}
	}
	return nil
}

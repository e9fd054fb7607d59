package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// RPCRequest is a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// RPCResponse is a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// InvokeResult is the result of invokefunction and invokescript.
type InvokeResult struct {
	Script      string      `json:"script"`
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception,omitempty"`
	Stack       []StackItem `json:"stack"`
	Tx          string      `json:"tx,omitempty"`
}

// StackItem is a Neo VM stack item.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ApplicationLog is the application log for a transaction.
type ApplicationLog struct {
	TxID       string      `json:"txid"`
	Executions []Execution `json:"executions"`
}

// Execution is a single execution in the application log.
type Execution struct {
	Trigger     string      `json:"trigger"`
	VMState     string      `json:"vmstate"`
	Exception   string      `json:"exception,omitempty"`
	GasConsumed string      `json:"gasconsumed"`
	Stack       []StackItem `json:"stack"`
}

// TxResult reports a broadcast transaction.
type TxResult struct {
	TxHash  string
	VMState string
	AppLog  *ApplicationLog
}

// Signer is the JSON form of a transaction signer for test invocations.
type Signer struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}

// ContractParam is a contract invocation parameter in RPC form.
type ContractParam struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// NewIntegerParam creates an Integer parameter.
func NewIntegerParam(v *big.Int) ContractParam {
	return ContractParam{Type: "Integer", Value: v.String()}
}

// NewHash160Param creates a Hash160 parameter.
func NewHash160Param(h util.Uint160) ContractParam {
	return ContractParam{Type: "Hash160", Value: "0x" + h.StringLE()}
}

// NewArrayParam creates an Array parameter.
func NewArrayParam(items []ContractParam) ContractParam {
	if items == nil {
		items = []ContractParam{}
	}
	return ContractParam{Type: "Array", Value: items}
}

// ParseHashString accepts a script hash as "0x"-prefixed or bare hex, or as
// a Neo address.
func ParseHashString(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "N") && len(s) == 34 {
		return addressToHash(s)
	}
	return util.Uint160DecodeStringLE(strings.TrimPrefix(s, "0x"))
}

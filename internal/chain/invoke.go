package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/smartcontract"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

// DefaultTxWaitTimeout is the default timeout for waiting for transaction execution.
const DefaultTxWaitTimeout = 2 * time.Minute

// DefaultPollInterval is the default interval for polling transaction status.
const DefaultPollInterval = 2 * time.Second

// validUntilIncrement is how many blocks a signed transaction stays valid.
const validUntilIncrement = 100

// FaultError reports a contract invocation that ended in FAULT.
type FaultError struct {
	Method    string
	State     string
	Exception string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s ended in %s: %s", e.Method, e.State, e.Exception)
}

// InvokeFunction invokes a contract function (read-only).
func (c *Client) InvokeFunction(ctx context.Context, contract util.Uint160, method string, params []ContractParam) (*InvokeResult, error) {
	if params == nil {
		params = []ContractParam{}
	}
	result, err := c.Call(ctx, "invokefunction", "0x"+contract.StringLE(), method, params)
	if err != nil {
		return nil, err
	}
	var invokeResult InvokeResult
	if err := json.Unmarshal(result, &invokeResult); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &invokeResult, nil
}

// InvokeRead runs a read-only call and returns the first stack item. A FAULT
// state is reported as *FaultError.
func (c *Client) InvokeRead(ctx context.Context, contract util.Uint160, method string, params ...ContractParam) (StackItem, error) {
	res, err := c.InvokeFunction(ctx, contract, method, params)
	if err != nil {
		return StackItem{}, fmt.Errorf("invoke %s: %w", method, err)
	}
	if res.State != "HALT" {
		return StackItem{}, &FaultError{Method: method, State: res.State, Exception: res.Exception}
	}
	if len(res.Stack) == 0 {
		return StackItem{}, fmt.Errorf("%s returned an empty stack", method)
	}
	return res.Stack[0], nil
}

// InvokeScript test-runs a script with the given signers.
func (c *Client) InvokeScript(ctx context.Context, script []byte, signers []Signer) (*InvokeResult, error) {
	args := []any{base64.StdEncoding.EncodeToString(script)}
	if len(signers) > 0 {
		args = append(args, signers)
	}
	result, err := c.Call(ctx, "invokescript", args...)
	if err != nil {
		return nil, err
	}
	var invokeResult InvokeResult
	if err := json.Unmarshal(result, &invokeResult); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &invokeResult, nil
}

// SendRawTransaction sends a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, tx *transaction.Transaction) (string, error) {
	result, err := c.Call(ctx, "sendrawtransaction", base64.StdEncoding.EncodeToString(tx.Bytes()))
	if err != nil {
		return "", err
	}
	var response struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", err
	}
	return response.Hash, nil
}

// CalculateNetworkFee asks the node for the verification cost of tx.
func (c *Client) CalculateNetworkFee(ctx context.Context, tx *transaction.Transaction) (int64, error) {
	result, err := c.Call(ctx, "calculatenetworkfee", base64.StdEncoding.EncodeToString(tx.Bytes()))
	if err != nil {
		return 0, err
	}
	var response struct {
		NetworkFee json.Number `json:"networkfee"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return 0, err
	}
	return strconv.ParseInt(response.NetworkFee.String(), 10, 64)
}

// WaitForApplicationLog polls for a transaction application log until it is
// available or ctx is done. A missing transaction is treated as transient.
func (c *Client) WaitForApplicationLog(ctx context.Context, txHash string, pollInterval time.Duration) (*ApplicationLog, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			log, err := c.GetApplicationLog(ctx, txHash)
			if err != nil {
				if isNotFoundError(err) {
					continue
				}
				return nil, err
			}
			return log, nil
		}
	}
}

// InvokeFunctionWithSignerAndWait test-runs method, then builds, signs and
// broadcasts a transaction calling it. When wait is set it blocks until the
// application log is available (DefaultTxWaitTimeout) and reports a FAULT
// execution as *FaultError.
func (c *Client) InvokeFunctionWithSignerAndWait(
	ctx context.Context,
	contract util.Uint160,
	method string,
	args []any,
	account *wallet.Account,
	scope transaction.WitnessScope,
	wait bool,
) (*TxResult, error) {
	script, err := smartcontract.CreateCallScript(contract, method, args...)
	if err != nil {
		return nil, fmt.Errorf("build %s script: %w", method, err)
	}

	sender := account.ScriptHash()
	test, err := c.InvokeScript(ctx, script, []Signer{{Account: "0x" + sender.StringLE(), Scopes: scope.String()}})
	if err != nil {
		return nil, fmt.Errorf("test invoke %s: %w", method, err)
	}
	if test.State != "HALT" {
		return nil, &FaultError{Method: method, State: test.State, Exception: test.Exception}
	}
	systemFee, err := strconv.ParseInt(test.GasConsumed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse gas consumed %q: %w", test.GasConsumed, err)
	}

	height, err := c.GetBlockCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("block count: %w", err)
	}
	network, err := c.Network(ctx)
	if err != nil {
		return nil, fmt.Errorf("network magic: %w", err)
	}

	tx := transaction.New(script, systemFee)
	tx.ValidUntilBlock = height + validUntilIncrement
	tx.Signers = []transaction.Signer{{Account: sender, Scopes: scope}}
	tx.Scripts = []transaction.Witness{{VerificationScript: account.Contract.Script}}

	if tx.NetworkFee, err = c.CalculateNetworkFee(ctx, tx); err != nil {
		return nil, fmt.Errorf("network fee: %w", err)
	}
	if err := account.SignTx(network, tx); err != nil {
		return nil, fmt.Errorf("sign %s: %w", method, err)
	}

	txHash, err := c.SendRawTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	result := &TxResult{TxHash: txHash, VMState: test.State}
	if !wait {
		return result, nil
	}

	wctx, cancel := context.WithTimeout(ctx, DefaultTxWaitTimeout)
	defer cancel()

	appLog, err := c.WaitForApplicationLog(wctx, txHash, DefaultPollInterval)
	if err != nil {
		return result, fmt.Errorf("wait for %s execution: %w", method, err)
	}
	result.AppLog = appLog
	if len(appLog.Executions) > 0 {
		exec := appLog.Executions[0]
		result.VMState = exec.VMState
		if exec.VMState != "HALT" {
			return result, &FaultError{Method: method, State: exec.VMState, Exception: exec.Exception}
		}
	}
	return result, nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown transaction") || strings.Contains(msg, "not found")
}

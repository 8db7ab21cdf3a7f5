package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Transport names, as recorded in results and metrics.
const (
	TransportJSONRPC = "jsonrpc"
	TransportHTTP    = "http"
)

// rpcMethod executes a command through Jeedom's JSON-RPC API.
const rpcMethod = "cmd::execCmd"

// Call is one command execution sent to Jeedom.
type Call struct {
	CmdID int

	// Value is sent when non-empty.
	Value string

	// Options pass through to cmd::execCmd (e.g. {"slider": "42"}).
	Options map[string]string
}

// Transport executes a Call against Jeedom.
type Transport interface {
	// Name identifies the transport in results and metrics.
	Name() string

	// Execute runs the call and returns Jeedom's response body.
	Execute(ctx context.Context, call Call) (string, error)
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      int            `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// RPCTransport posts cmd::execCmd to Jeedom's JSON-RPC endpoint.
type RPCTransport struct {
	client *resty.Client
	url    string
	apiKey string
}

// NewRPCTransport creates a JSON-RPC transport. The client carries the
// timeout; it must not retry, the dispatcher owns the fallback policy.
func NewRPCTransport(client *resty.Client, url, apiKey string) *RPCTransport {
	return &RPCTransport{client: client, url: url, apiKey: apiKey}
}

// Name returns "jsonrpc".
func (t *RPCTransport) Name() string { return TransportJSONRPC }

// Execute posts the call and fails with ErrTransport on network or HTTP
// errors, ErrRPC when Jeedom returns a decoded error object. An
// undecodable 2xx body is returned as is.
func (t *RPCTransport) Execute(ctx context.Context, call Call) (string, error) {
	params := map[string]any{
		"apikey": t.apiKey,
		"id":     call.CmdID,
	}
	if call.Value != "" {
		params["value"] = rpcValue(call.Value)
	}
	if len(call.Options) > 0 {
		params["options"] = call.Options
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(rpcRequest{JSONRPC: "2.0", Method: rpcMethod, Params: params, ID: 1}).
		Post(t.url)
	if err != nil {
		return "", fmt.Errorf("%w: json-rpc cmd %d: %v", ErrTransport, call.CmdID, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: json-rpc cmd %d: HTTP %d", ErrTransport, call.CmdID, resp.StatusCode())
	}

	// Jeedom has already run the command once it answers 2xx. A body that
	// does not decode (PHP notices ahead of the JSON) is still a success and
	// must not trigger the fallback.
	var out rpcResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return strings.TrimSpace(resp.String()), nil
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: cmd %d: %s (code %d)", ErrRPC, call.CmdID, out.Error.Message, out.Error.Code)
	}
	return string(out.Result), nil
}

// rpcValue sends all-digit values as integers, other numbers as floats and
// everything else as a string.
func rpcValue(v string) any {
	if isDigits(v) {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return v
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// HTTPTransport calls jeeApi.php?type=cmd with a GET request.
type HTTPTransport struct {
	client *resty.Client
	url    string
	apiKey string
}

// NewHTTPTransport creates the plain HTTP transport.
func NewHTTPTransport(client *resty.Client, url, apiKey string) *HTTPTransport {
	return &HTTPTransport{client: client, url: url, apiKey: apiKey}
}

// Name returns "http".
func (t *HTTPTransport) Name() string { return TransportHTTP }

// Execute sends the call; any HTTP status >= 400 is ErrTransport.
func (t *HTTPTransport) Execute(ctx context.Context, call Call) (string, error) {
	query := map[string]string{
		"apikey": t.apiKey,
		"type":   "cmd",
		"id":     strconv.Itoa(call.CmdID),
	}
	if call.Value != "" {
		query["value"] = call.Value
	}
	if slider, ok := call.Options["slider"]; ok && slider != "" {
		query["slider"] = slider
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(t.url)
	if err != nil {
		return "", fmt.Errorf("%w: http cmd %d: %v", ErrTransport, call.CmdID, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: http cmd %d: HTTP %d", ErrTransport, call.CmdID, resp.StatusCode())
	}
	return strings.TrimSpace(resp.String()), nil
}

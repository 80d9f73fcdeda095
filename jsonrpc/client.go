// Package jsonrpc is an example external collaborator: a minimal HTTP
// JSON-RPC 2.0 client demonstrating how a caller implements the
// dispatch.Operation function type the Dispatcher invokes, and how a
// lookup.PartitionCallHandler is built on top of one. No core package
// imports this one, and no test in the module exercises it; it is an
// example of a realistic backend collaborator.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mini-rpc/coreband/errhandler"
)

// Client issues JSON-RPC 2.0 requests over HTTP POST.
type Client struct {
	http *http.Client
}

// New wraps an *http.Client. Passing nil uses http.DefaultClient.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Call performs a single JSON-RPC 2.0 request against endpoint. It is the
// concrete example of the dispatch.Operation[B, R] function type: a caller
// wraps this (typically closing over method/params) and hands it to
// dispatch.New as the operation to execute against whichever backend the
// Dispatcher selects.
func (c *Client) Call(ctx context.Context, endpoint string, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &errhandler.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("jsonrpc: unexpected status %d: %s", resp.StatusCode, string(data)),
		}
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

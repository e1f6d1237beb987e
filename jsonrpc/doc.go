// Package jsonrpc provides a JSON-RPC 2.0 server endpoint integrated with the
// endpoint package's processor chain.
//
// # Basic Usage
//
// Create an endpoint, register methods, and serve via HTTP:
//
//	e := jsonrpc.NewEndpoint(jsonrpc.WithLogger(log))
//	e.Register("", &Methods{})
//	mux.Handle("POST /rpc", endpoint.Handler(e.Endpoint))
//
// Methods are defined on a struct with a params type:
//
//	type LookupParams struct {
//	    ID    int64  `json:"id"`
//	    Shelf string `json:"shelf,omitempty"`
//	}
//
//	func (m *Methods) Lookup(ctx context.Context, params LookupParams) (*Book, error)
//
// # Method Signatures
//
// Methods must have this signature:
//
//	func(ctx context.Context, params <StructType>) (result, error)
//
// Params are named: the request's params object maps onto the struct by json
// tags. A field is required unless its json tag carries omitempty; a missing
// or null required field is answered with CodeInvalidParams. Absent params are
// treated as an empty object. Numbers inside untyped values decode as
// json.Number.
//
// # Method Name Override
//
// Use a `_` field with a `jsonrpc` tag to override the method name:
//
//	type ListParams struct {
//	    _ struct{} `jsonrpc:"tools/list"`
//	}
//
// # Responses
//
// Every request is answered, including requests without an id; the id is
// echoed exactly as sent, and an explicit null id is treated as absent.
// Batches are processed concurrently (see WithBatchLimit) and answered in
// request order.
//
// # Error Handling
//
// Return *Error for protocol-level errors:
//
//	return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params - shelf is closed")
//
// Any other error, and any panic, is reported as CodeInternalError with the
// message "Internal error: <detail>". Only four codes are produced:
//   - CodeInvalidRequest (-32600), including bodies that are not JSON
//   - CodeMethodNotFound (-32601)
//   - CodeInvalidParams (-32602)
//   - CodeInternalError (-32603)
//
// # Processor Integration
//
// Processors can be passed to endpoint.Handler for cross-cutting concerns.
// Processor errors return HTTP error responses (not JSON-RPC errors).
package jsonrpc

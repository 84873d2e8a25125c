// Package mcp implements the server side of the Model Context Protocol over a
// request/response HTTP transport whose replies are framed as Server-Sent
// Events. Every POST carries one JSON-RPC request and yields exactly one
// frame; notifications without an id yield a heartbeat comment instead.
//
// Example:
//
// This example registers a strongly typed tool and serves it on :8003.
//
//	package main
//
//	import (
//		"context"
//		"encoding/json"
//		"log"
//
//		"github.com/ivanarama/ConfluenceMCP/mcp"
//	)
//
//	type echoParams struct {
//		Text string `json:"text"`
//	}
//
//	func main() {
//		echo := mcp.NewTool("echo", "Echo the given text.", json.RawMessage(`{
//				"type": "object",
//				"properties": {"text": {"type": "string"}},
//				"required": ["text"]
//			}`),
//			func(ctx context.Context, p echoParams) (string, error) {
//				return p.Text, nil
//			})
//
//		registry, err := mcp.NewToolRegistry(echo)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		base, err := mcp.NewBaseServer(mcp.UseToolRegistry(registry))
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		server := mcp.NewSSEServer(base, mcp.WithAddress(":8003"))
//		if err := server.Run(context.Background()); err != nil {
//			log.Fatal(err)
//		}
//	}
package mcp

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mfenderov/compound-learning/internal/config"
	"github.com/mfenderov/compound-learning/internal/consolidate"
	"github.com/mfenderov/compound-learning/internal/embedding"
	"github.com/mfenderov/compound-learning/internal/indexer"
	"github.com/mfenderov/compound-learning/internal/mcp"
	"github.com/mfenderov/compound-learning/internal/search"
	"github.com/mfenderov/compound-learning/internal/storage"
)

var Version = "dev"

const protocolVersion = "2024-11-05"

// Server speaks MCP over stdio: one JSON-RPC message per line on stdin,
// responses on stdout, diagnostics on stderr.
type Server struct {
	handler     *mcp.Handler
	initialized bool
}

func main() {
	cfg := config.Load()

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.DBPath), 0o755); err != nil {
		logError("failed to create database directory: %v", err)
		os.Exit(1)
	}
	store, err := storage.NewStore(cfg.SQLite.DBPath)
	if err != nil {
		logError("failed to open store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	embedder := embedding.NewClient(cfg.Embedding.BaseURL,
		embedding.WithModel(cfg.Embedding.Model),
		embedding.WithTimeout(time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second),
		embedding.WithMaxInputBytes(cfg.Embedding.MaxInputBytes),
	)

	handler := mcp.NewHandler(
		store,
		search.New(store, embedder, cfg.Learnings),
		indexer.New(store, embedder, cfg.Learnings.GlobalDir),
		consolidate.NewDiscoverer(store, cfg.Consolidation),
		consolidate.NewActions(store, embedder, cfg.Learnings.ArchiveDir, cfg.Learnings.GlobalDir),
	)

	server := &Server{handler: handler}
	if err := server.Run(); err != nil {
		logError("server error: %v", err)
		os.Exit(1)
	}
}

// Run reads requests from stdin until EOF.
func (s *Server) Run() error {
	scanner := bufio.NewScanner(os.Stdin)
	// Tool results can carry full learning documents, so allow large lines.
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req mcp.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.sendError(nil, mcp.ErrCodeParse, "parse error", err.Error())
			continue
		}

		s.handleRequest(&req)
	}
	return scanner.Err()
}

func (s *Server) handleRequest(req *mcp.Request) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "notifications/initialized":
		s.initialized = true
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(req)
	case "ping":
		s.sendResult(req.ID, struct{}{})
	default:
		// Notifications have no id and expect no response.
		if req.ID != nil {
			s.sendError(req.ID, mcp.ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
		}
	}
}

func (s *Server) handleInitialize(req *mcp.Request) {
	var params mcp.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(req.ID, mcp.ErrCodeInvalidParams, "invalid initialize params", err.Error())
			return
		}
	}

	logError("client connected: %s %s", params.ClientInfo.Name, params.ClientInfo.Version)

	s.sendResult(req.ID, mcp.InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &mcp.ToolsCapability{},
		},
		ServerInfo: mcp.ServerInfo{
			Name:    "compound-learning",
			Version: Version,
		},
	})
}

func (s *Server) handleToolsList(req *mcp.Request) {
	s.sendResult(req.ID, mcp.ToolsListResult{Tools: s.handler.Tools()})
}

func (s *Server) handleToolsCall(req *mcp.Request) {
	var params mcp.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, mcp.ErrCodeInvalidParams, "invalid tool call params", err.Error())
		return
	}

	result, err := s.handler.CallTool(params.Name, params.Arguments)
	if err != nil {
		// Tool failures are results with isError set, not protocol errors.
		s.sendResult(req.ID, mcp.ToolCallResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}

	s.sendResult(req.ID, result)
}

func (s *Server) sendResult(id any, result any) {
	s.send(mcp.Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(id any, code int, message string, data any) {
	s.send(mcp.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &mcp.Error{Code: code, Message: message, Data: data},
	})
}

func (s *Server) send(resp mcp.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logError("failed to marshal response: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[compound-learning] "+format+"\n", args...)
}

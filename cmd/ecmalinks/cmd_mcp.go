package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/ecmalinks/internal/version"
	"github.com/jmylchreest/ecmalinks/pkg/config"
	"github.com/jmylchreest/ecmalinks/pkg/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// mcpLog logs to stderr (stdout is reserved for MCP JSON-RPC protocol)
var mcpLog = log.New(os.Stderr, "[ecmalinks:mcp] ", log.Ltime)

// MCPServer exposes the site store as MCP tools.
type MCPServer struct {
	cfg    *config.Config
	store  *store.SiteStore
	server *mcp.Server

	// indexMu serialises document_index calls; linking is CPU heavy and
	// the store writes one document at a time anyway.
	indexMu sync.Mutex

	toolCounts sync.Map // map[string]*atomic.Int64
}

// incrementToolCount atomically increments the execution count for a tool.
func (s *MCPServer) incrementToolCount(name string) {
	v, _ := s.toolCounts.LoadOrStore(name, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
}

// getToolCounts returns a snapshot of tool execution counts.
func (s *MCPServer) getToolCounts() map[string]int64 {
	counts := make(map[string]int64)
	s.toolCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return counts
}

// toolCountMiddleware returns MCP middleware that counts tool invocations.
func (s *MCPServer) toolCountMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method == "tools/call" {
				if params, ok := req.GetParams().(*mcp.CallToolParamsRaw); ok {
					s.incrementToolCount(params.Name)
				}
			}
			return next(ctx, method, req)
		}
	}
}

// cmdMCP starts the MCP server over stdio.
func cmdMCP(cfg *config.Config, args []string) error {
	if hasFlag(args, "--help") || hasFlag(args, "-h") {
		printMCPUsage()
		return nil
	}
	startTime := time.Now()
	mcpLog.Printf("ecmalinks MCP server starting")
	mcpLog.Printf("version: %s", version.String())
	mcpLog.Printf("store: %s", storeDir(cfg))

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	s := &MCPServer{cfg: cfg, store: st}
	mcpLog.Printf("MCP server ready in %v, listening on stdio", time.Since(startTime))
	err = s.Run()
	mcpLog.Printf("tool calls: %v", s.getToolCounts())
	return err
}

// Run registers all tools and serves over stdio.
func (s *MCPServer) Run() error {
	s.server = mcp.NewServer(
		&mcp.Implementation{
			Name:    "ecmalinks",
			Version: version.Short(),
		},
		nil,
	)
	s.server.AddReceivingMiddleware(s.toolCountMiddleware())
	s.registerTools()
	return s.server.Run(context.Background(), &mcp.StdioTransport{})
}

// ============================================================================
// Tool input types
// ============================================================================

type DocumentListInput struct{}

type DocumentIndexInput struct {
	Source string `json:"source" jsonschema:"File path, ** glob or http(s) URL of a specification document"`
	Force  bool   `json:"force,omitempty" jsonschema:"Re-index even when the stored copy is up to date"`
}

type FunctionListInput struct {
	Document string `json:"document" jsonschema:"Indexed document (path or URL as given to document_index)"`
	Filter   string `json:"filter,omitempty" jsonschema:"Only functions whose name contains this text (case-insensitive)"`
}

type FunctionGroupsInput struct {
	Document string `json:"document" jsonschema:"Indexed document (path or URL as given to document_index)"`
	Name     string `json:"name" jsonschema:"Semantic function name, e.g. BoundNames"`
}

type FunctionSearchInput struct {
	Query    string `json:"query" jsonschema:"Function name or part of one. Supports prefix and substring matches."`
	Document string `json:"document,omitempty" jsonschema:"Restrict to one indexed document"`
	Kind     string `json:"kind,omitempty" jsonschema:"Filter by kind: static or runtime"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results (default 20)"`
}

// ============================================================================
// Tool registration and handlers
// ============================================================================

func (s *MCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "document_list",
		Description: `List indexed specification documents with their function and site counts.`,
	}, s.handleDocumentList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "document_index",
		Description: `Index a specification document so its semantic functions can be listed and searched.

Definition sites are collected from "Static Semantics: X" and "Runtime Semantics: X"
clause headings. Unchanged local files are skipped unless force is set.`,
	}, s.handleDocumentIndex)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "function_list",
		Description: `List the semantic functions of an indexed document in first-definition order.`,
	}, s.handleFunctionList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "function_groups",
		Description: `Show where a semantic function is defined, grouped by grammar nonterminal.

Adjacent definitions over the same nonterminal form one group; extra definitions
in a group are numbered from 2, exactly as the in-page popup shows them.`,
	}, s.handleFunctionGroups)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "function_search",
		Description: `Search definition sites by function name across indexed documents.`,
	}, s.handleFunctionSearch)
}

func (s *MCPServer) handleDocumentList(_ context.Context, _ *mcp.CallToolRequest, _ DocumentListInput) (*mcp.CallToolResult, any, error) {
	mcpLog.Printf("tool: document_list")
	docs, err := s.store.ListDocuments()
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult(formatDocumentsMarkdown(docs)), nil, nil
}

func (s *MCPServer) handleDocumentIndex(ctx context.Context, _ *mcp.CallToolRequest, input DocumentIndexInput) (*mcp.CallToolResult, any, error) {
	mcpLog.Printf("tool: document_index source=%q force=%v", input.Source, input.Force)
	if input.Source == "" {
		return errorResult("source is required"), nil, nil
	}
	inputs, err := expandInputs([]string{input.Source})
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	outcomes, err := indexDocuments(ctx, s.cfg, s.store, inputs, input.Force)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult(formatIndexOutcomesMarkdown(outcomes)), nil, nil
}

func (s *MCPServer) handleFunctionList(_ context.Context, _ *mcp.CallToolRequest, input FunctionListInput) (*mcp.CallToolResult, any, error) {
	mcpLog.Printf("tool: function_list document=%q filter=%q", input.Document, input.Filter)
	fns, err := s.store.Functions(sourceKey(input.Document))
	if errors.Is(err, store.ErrNotFound) {
		return errorResult(notIndexed(input.Document)), nil, nil
	}
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if input.Filter != "" {
		needle := strings.ToLower(input.Filter)
		kept := fns[:0]
		for _, fn := range fns {
			if strings.Contains(strings.ToLower(fn.Name), needle) {
				kept = append(kept, fn)
			}
		}
		fns = kept
	}
	return textResult(formatFunctionsMarkdown(input.Document, fns)), nil, nil
}

func (s *MCPServer) handleFunctionGroups(_ context.Context, _ *mcp.CallToolRequest, input FunctionGroupsInput) (*mcp.CallToolResult, any, error) {
	mcpLog.Printf("tool: function_groups document=%q name=%q", input.Document, input.Name)
	ix, err := s.store.LoadIndex(sourceKey(input.Document))
	if errors.Is(err, store.ErrNotFound) {
		return errorResult(notIndexed(input.Document)), nil, nil
	}
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	groups, err := ix.Groups(input.Name)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult(formatGroupsMarkdown(input.Name, groups)), nil, nil
}

func (s *MCPServer) handleFunctionSearch(_ context.Context, _ *mcp.CallToolRequest, input FunctionSearchInput) (*mcp.CallToolResult, any, error) {
	mcpLog.Printf("tool: function_search query=%q kind=%s document=%q", input.Query, input.Kind, input.Document)
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	opts := store.SearchOptions{Kind: input.Kind, Limit: limit}
	if input.Document != "" {
		opts.Document = sourceKey(input.Document)
	}
	results, err := s.store.Search(input.Query, opts)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult(formatSearchMarkdown(input.Query, results)), nil, nil
}

func notIndexed(doc string) string {
	return fmt.Sprintf("document not indexed: %s (call document_index first)", doc)
}

// printMCPUsage prints help for the mcp command.
func printMCPUsage() {
	fmt.Print(`ecmalinks mcp - Start MCP server over stdio

Usage:
  ecmalinks mcp [--config=FILE]

Tools:
  document_list      List indexed documents
  document_index     Index a document by path, glob or URL
  function_list      List the semantic functions of a document
  function_groups    Show the overload groups of one function
  function_search    Search definition sites by function name

The store directory is taken from db_path (default: .ecmalinks).
`)
}

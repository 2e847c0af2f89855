// Package mcp exposes the learning store over the Model Context Protocol:
// JSON-RPC 2.0 tool calls for search, indexing, and consolidation.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mfenderov/compound-learning/internal/consolidate"
	"github.com/mfenderov/compound-learning/internal/indexer"
	"github.com/mfenderov/compound-learning/internal/search"
	"github.com/mfenderov/compound-learning/internal/storage"
)

// searchTimeout bounds tool-call search work so a stalled embedding
// backend cannot hang the protocol loop.
const searchTimeout = 10 * time.Second

// indexTimeout allows for embedding many files in one pass.
const indexTimeout = 5 * time.Minute

// Handler processes MCP tool calls against the learning services.
type Handler struct {
	store      *storage.Store
	search     *search.Service
	indexer    *indexer.Indexer
	discoverer *consolidate.Discoverer
	actions    *consolidate.Actions
}

// NewHandler creates an MCP handler wired to the learning services.
func NewHandler(store *storage.Store, svc *search.Service, ix *indexer.Indexer, disc *consolidate.Discoverer, actions *consolidate.Actions) *Handler {
	return &Handler{store: store, search: svc, indexer: ix, discoverer: disc, actions: actions}
}

// Tools returns the list of available learning tools.
func (h *Handler) Tools() []Tool {
	return []Tool{
		{
			Name:        "search_learnings",
			Description: "Semantic search over indexed learnings with tiered confidence. Peek mode searches multiple keywords in parallel and returns a small capped result set.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":      {Type: "string", Description: "Free-text query (standard mode)"},
					"cwd":        {Type: "string", Description: "Working directory for scope resolution"},
					"peek":       {Type: "boolean", Description: "Enable peek mode"},
					"keywords":   {Type: "array", Description: "Keywords for peek mode", Items: &Items{Type: "string"}},
					"excludeIds": {Type: "array", Description: "Learning ids to exclude", Items: &Items{Type: "string"}},
					"maxResults": {Type: "number", Description: "Result cap for peek mode"},
				},
			},
		},
		{
			Name:        "search_keywords",
			Description: "Full-text keyword search over learning content (stemmed, scope-aware)",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {Type: "string", Description: "Keywords to match"},
					"cwd":   {Type: "string", Description: "Working directory for scope resolution"},
					"limit": {Type: "number", Description: "Maximum results"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "index_learnings",
			Description: "Index all learning files into the store, prune deleted files, and regenerate manifests",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"cwd":             {Type: "string", Description: "Working directory for repo discovery"},
					"rebuildManifest": {Type: "boolean", Description: "Only regenerate manifests from existing records, skip re-indexing"},
				},
			},
		},
		{
			Name:        "index_file",
			Description: "Index a single learning file",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"path": {Type: "string", Description: "Path to the learning file"},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        "consolidate_discover",
			Description: "Find near-duplicate clusters and outdated learnings (read-only)",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"mode":  {Type: "string", Description: "all, duplicates, or outdated"},
					"limit": {Type: "number", Description: "Cap on clusters and outdated hits"},
				},
			},
		},
		{
			Name:        "consolidate_action",
			Description: "Execute a consolidation action: get, delete, archive, rescope, or merge. Destructive actions back up source files first.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"action":         {Type: "string", Description: "get, delete, archive, rescope, or merge"},
					"ids":            {Type: "array", Description: "Learning ids to act on", Items: &Items{Type: "string"}},
					"name":           {Type: "string", Description: "Merged file name (merge)"},
					"outputDir":      {Type: "string", Description: "Override output directory (merge)"},
					"dryRun":         {Type: "boolean", Description: "Report the plan without writing (merge)"},
					"targetScope":    {Type: "string", Description: "global or repo (rescope)"},
					"targetRepoRoot": {Type: "string", Description: "Repo root directory (rescope to repo)"},
				},
				Required: []string{"action"},
			},
		},
		{
			Name:        "get_stats",
			Description: "Learning counts grouped by scope and topic",
			InputSchema: InputSchema{
				Type: "object",
			},
		},
	}
}

// CallTool dispatches a tool call by name.
func (h *Handler) CallTool(name string, args json.RawMessage) (*ToolCallResult, error) {
	switch name {
	case "search_learnings":
		return h.searchLearnings(args)
	case "search_keywords":
		return h.searchKeywords(args)
	case "index_learnings":
		return h.indexLearnings(args)
	case "index_file":
		return h.indexFile(args)
	case "consolidate_discover":
		return h.consolidateDiscover(args)
	case "consolidate_action":
		return h.consolidateAction(args)
	case "get_stats":
		return h.getStats()
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (h *Handler) searchLearnings(args json.RawMessage) (*ToolCallResult, error) {
	var input SearchLearningsInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	cwd := input.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	var resp search.Response
	if input.Peek {
		resp = h.search.Peek(ctx, search.PeekRequest{
			Keywords:   input.Keywords,
			Cwd:        cwd,
			ExcludeIDs: input.ExcludeIDs,
			MaxResults: input.MaxResults,
		})
	} else {
		if input.Query == "" {
			return nil, fmt.Errorf("query is required for standard search")
		}
		resp = h.search.Search(ctx, input.Query, cwd)
	}

	return jsonResult(resp)
}

func (h *Handler) searchKeywords(args json.RawMessage) (*ToolCallResult, error) {
	var input SearchKeywordsInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	cwd := input.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	matches, err := h.search.Keywords(input.Query, cwd, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	return jsonResult(matches)
}

func (h *Handler) indexLearnings(args json.RawMessage) (*ToolCallResult, error) {
	var input IndexLearningsInput
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	if input.RebuildManifest {
		manifests, err := h.indexer.RebuildManifests()
		if err != nil {
			return nil, fmt.Errorf("rebuilding manifests: %w", err)
		}
		return jsonResult(map[string]any{"manifests": manifests})
	}

	cwd := input.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()

	res, err := h.indexer.Index(ctx, cwd)
	if err != nil {
		return nil, fmt.Errorf("indexing failed: %w", err)
	}
	return jsonResult(res)
}

func (h *Handler) indexFile(args json.RawMessage) (*ToolCallResult, error) {
	var input IndexFileInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	if err := h.indexer.IndexFile(ctx, input.Path); err != nil {
		return nil, fmt.Errorf("indexing %s: %w", input.Path, err)
	}
	return textResult(fmt.Sprintf("Indexed %s", input.Path))
}

func (h *Handler) consolidateDiscover(args json.RawMessage) (*ToolCallResult, error) {
	var input ConsolidateDiscoverInput
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if input.Mode == "" {
		input.Mode = consolidate.ModeAll
	}

	report, err := h.discoverer.Discover(input.Mode, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	return jsonResult(report)
}

func (h *Handler) consolidateAction(args json.RawMessage) (*ToolCallResult, error) {
	var input ConsolidateActionInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	switch input.Action {
	case "get":
		learnings, err := h.actions.Get(input.IDs)
		if err != nil {
			return nil, fmt.Errorf("get failed: %w", err)
		}
		return jsonResult(learnings)
	case "delete":
		return jsonResult(h.actions.Delete(input.IDs))
	case "archive":
		return jsonResult(h.actions.Archive(input.IDs))
	case "rescope":
		if len(input.IDs) != 1 {
			return nil, fmt.Errorf("rescope takes exactly one id")
		}
		return jsonResult(h.actions.Rescope(input.IDs[0], input.TargetScope, input.TargetRepoRoot))
	case "merge":
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()
		return jsonResult(h.actions.Merge(ctx, consolidate.MergeRequest{
			IDs:       input.IDs,
			Name:      input.Name,
			OutputDir: input.OutputDir,
			DryRun:    input.DryRun,
		}))
	default:
		return nil, fmt.Errorf("unknown action: %s", input.Action)
	}
}

func (h *Handler) getStats() (*ToolCallResult, error) {
	stats, err := h.store.Stats()
	if err != nil {
		return nil, fmt.Errorf("stats failed: %w", err)
	}
	total, err := h.store.Count()
	if err != nil {
		return nil, fmt.Errorf("stats failed: %w", err)
	}
	return jsonResult(map[string]any{"total": total, "breakdown": stats})
}

func jsonResult(v any) (*ToolCallResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ToolCallResult{Content: []ContentBlock{{Type: "text", Text: string(data)}}}, nil
}

func textResult(text string) (*ToolCallResult, error) {
	return &ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}, nil
}

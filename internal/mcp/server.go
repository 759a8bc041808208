// Package mcp exposes the entity resolver as Model Context Protocol tools
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	mcp "github.com/fredcamaral/gomcp-sdk"
	"github.com/fredcamaral/gomcp-sdk/protocol"
	"github.com/fredcamaral/gomcp-sdk/server"
	"github.com/fredcamaral/gomcp-sdk/transport"

	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/types"
	"lerian-entity-resolver/internal/validation"
)

// Tool names
const (
	ToolResolveReference = "resolve_reference"
	ToolProcessUpdate    = "process_update"
	ToolExecuteOperation = "execute_operation"
	ToolExecuteBatch     = "execute_batch"
	ToolAnalyzePatterns  = "analyze_patterns"
	ToolSuggestEntities  = "suggest_entities"
	ToolClusterEntities  = "cluster_entities"
	ToolClearContext     = "clear_context"
)

// ResolverServer implements the MCP server over the engine facade
type ResolverServer struct {
	engine    *engine.Engine
	mcpServer *server.Server
	logger    *logging.ComponentLogger
}

// NewResolverServer creates the MCP server and registers every tool
func NewResolverServer(eng *engine.Engine, version string, logger logging.Logger) (*ResolverServer, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}

	rs := &ResolverServer{
		engine: eng,
		logger: logging.NewComponentLogger(logger, "mcp"),
	}

	rs.mcpServer = mcp.NewServer(getEnv("SERVICE_NAME", "lerian-entity-resolver"), version)
	if rs.mcpServer == nil {
		return nil, errors.New("failed to create MCP server instance")
	}
	rs.registerTools()
	return rs, nil
}

// GetMCPServer returns the underlying MCP server
func (rs *ResolverServer) GetMCPServer() *server.Server {
	return rs.mcpServer
}

// ServeStdio serves the tools over stdin/stdout until ctx is cancelled
func (rs *ResolverServer) ServeStdio(ctx context.Context) error {
	rs.logger.Info("Starting MCP server on stdio")
	rs.mcpServer.SetTransport(transport.NewStdioTransport())
	if err := rs.mcpServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	return nil
}

// HTTPHandler serves single JSON-RPC requests posted over HTTP
func (rs *ResolverServer) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		var req protocol.JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = json.NewEncoder(w).Encode(&protocol.JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   protocol.NewJSONRPCError(protocol.ParseError, "Parse error", err.Error()),
			})
			return
		}

		resp := rs.mcpServer.HandleRequest(r.Context(), &req)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			rs.logger.WithContext(r.Context()).LogError("Failed to encode MCP response", err, "method", req.Method)
		}
	})
}

func (rs *ResolverServer) registerTools() {
	userID := mcp.StringParam("Identifier of the user whose items are addressed", true)
	entities := mcp.ArraySchema("Items already fetched by the caller; omitted means the server looks them up", map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":    mcp.StringParam("Item id", true),
			"title": mcp.StringParam("Item title", true),
			"kind":  map[string]interface{}{"type": "string", "enum": []string{string(types.KindEvent), string(types.KindTask)}},
			"due":   mcp.StringParam("RFC 3339 due timestamp", false),
		},
	})
	conversation := map[string]interface{}{
		"type":        "object",
		"description": "Recent conversation history: messages (role, content, agent) and memory summaries (summary, agent)",
	}
	operation := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"type":    map[string]interface{}{"type": "string", "enum": operationTypeNames()},
			"payload": map[string]interface{}{"type": "object", "additionalProperties": true},
		},
		"required": []string{"type", "payload"},
	}

	rs.mcpServer.AddTool(mcp.NewTool(
		ToolResolveReference,
		"Work out which item a vague phrase such as 'move it to friday' refers to, using the last item discussed with the user.",
		mcp.ObjectSchema("Reference resolution parameters", map[string]interface{}{
			"user_id":      userID,
			"reference":    mcp.StringParam("The phrase to resolve", true),
			"entities":     entities,
			"conversation": conversation,
		}, []string{"user_id", "reference"}),
	), mcp.ToolHandlerFunc(rs.handleResolveReference))

	rs.mcpServer.AddTool(mcp.NewTool(
		ToolProcessUpdate,
		"Resolve the target of an update message and report whether it is safe to apply.",
		mcp.ObjectSchema("Update parameters", map[string]interface{}{
			"user_id":      userID,
			"message":      mcp.StringParam("The update message", true),
			"entities":     entities,
			"conversation": conversation,
		}, []string{"user_id", "message"}),
	), mcp.ToolHandlerFunc(rs.handleProcessUpdate))

	rs.mcpServer.AddTool(mcp.NewTool(
		ToolExecuteOperation,
		"Run a single create, complete, update or delete operation on an item or list. Entity operations may name their target with a 'reference' phrase instead of an id.",
		mcp.ObjectSchema("Operation parameters", map[string]interface{}{
			"user_id":      userID,
			"type":         map[string]interface{}{"type": "string", "enum": operationTypeNames()},
			"payload":      map[string]interface{}{"type": "object", "additionalProperties": true},
			"message":      mcp.StringParam("The user message that asked for this", false),
			"entities":     entities,
			"conversation": conversation,
		}, []string{"user_id", "type", "payload"}),
	), mcp.ToolHandlerFunc(rs.handleExecuteOperation))

	rs.mcpServer.AddTool(mcp.NewTool(
		ToolExecuteBatch,
		"Run up to 50 operations. One failing operation never stops the others; the result lists what succeeded and what failed.",
		mcp.ObjectSchema("Batch parameters", map[string]interface{}{
			"user_id":         userID,
			"operations":      mcp.ArraySchema("Operations in execution order", operation),
			"mode":            map[string]interface{}{"type": "string", "enum": []string{"sequential", "bounded"}, "default": "sequential"},
			"max_concurrency": mcp.NumberParam("Window size in bounded mode", false),
			"message":         mcp.StringParam("The user message that asked for this", false),
			"entities":        entities,
			"conversation":    conversation,
		}, []string{"user_id", "operations"}),
	), mcp.ToolHandlerFunc(rs.handleExecuteBatch))

	rs.mcpServer.AddTool(mcp.NewTool(
		ToolAnalyzePatterns,
		"Classify the conversation as calendar or task leaning and describe how the user interacts.",
		mcp.ObjectSchema("Pattern analysis parameters", map[string]interface{}{
			"user_id":      userID,
			"conversation": conversation,
		}, []string{"user_id"}),
	), mcp.ToolHandlerFunc(rs.handleAnalyzePatterns))

	rs.mcpServer.AddTool(mcp.NewTool(
		ToolSuggestEntities,
		"Suggest items whose titles resemble a query that matched nothing.",
		mcp.ObjectSchema("Suggestion parameters", map[string]interface{}{
			"user_id":  userID,
			"query":    mcp.StringParam("The unmatched query", true),
			"limit":    mcp.NumberParam("Maximum number of suggestions", false),
			"entities": entities,
		}, []string{"user_id", "query"}),
	), mcp.ToolHandlerFunc(rs.handleSuggestEntities))

	rs.mcpServer.AddTool(mcp.NewTool(
		ToolClusterEntities,
		"Group items with near-duplicate titles.",
		mcp.ObjectSchema("Clustering parameters", map[string]interface{}{
			"user_id":   userID,
			"threshold": mcp.NumberParam("Similarity in [0,1] above which titles group", false),
			"entities":  entities,
		}, []string{"user_id"}),
	), mcp.ToolHandlerFunc(rs.handleClusterEntities))

	rs.mcpServer.AddTool(mcp.NewTool(
		ToolClearContext,
		"Forget the last item discussed with the user.",
		mcp.ObjectSchema("Clear context parameters", map[string]interface{}{
			"user_id": userID,
		}, []string{"user_id"}),
	), mcp.ToolHandlerFunc(rs.handleClearContext))
}

func (rs *ResolverServer) handleResolveReference(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := requireUser(params)
	if err != nil {
		return nil, err
	}
	reference, _ := params["reference"].(string)
	ents, err := entitiesParam(params)
	if err != nil {
		return nil, err
	}
	if ctx, err = withConversation(ctx, params); err != nil {
		return nil, err
	}

	resp, err := rs.engine.Resolve(ctx, userID, reference, ents)
	if err != nil {
		return nil, rs.fail(ctx, ToolResolveReference, err)
	}
	return map[string]interface{}{
		"status":     resp.Resolution.Status,
		"match":      resp.Resolution.Match,
		"resolution": resp.Resolution,
		"text":       resp.Text,
	}, nil
}

func (rs *ResolverServer) handleProcessUpdate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := requireUser(params)
	if err != nil {
		return nil, err
	}
	message, _ := params["message"].(string)
	ents, err := entitiesParam(params)
	if err != nil {
		return nil, err
	}
	if ctx, err = withConversation(ctx, params); err != nil {
		return nil, err
	}

	out, err := rs.engine.ProcessUpdate(ctx, userID, message, ents)
	if err != nil {
		return nil, rs.fail(ctx, ToolProcessUpdate, err)
	}
	return out, nil
}

func (rs *ResolverServer) handleExecuteOperation(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	ops, err := validation.DecodeOperations([]interface{}{map[string]interface{}{
		"type":    params["type"],
		"payload": params["payload"],
	}})
	if err != nil {
		return nil, err
	}
	return rs.execute(ctx, ToolExecuteOperation, params, ops, false)
}

func (rs *ResolverServer) handleExecuteBatch(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	ops, err := validation.DecodeOperations(params["operations"])
	if err != nil {
		return nil, err
	}

	bounded := false
	switch mode, _ := params["mode"].(string); mode {
	case "", string(types.ModeSequential):
	case string(types.ModeBounded):
		bounded = true
	default:
		return nil, fmt.Errorf("mode must be %q or %q", types.ModeSequential, types.ModeBounded)
	}
	return rs.execute(ctx, ToolExecuteBatch, params, ops, bounded)
}

func (rs *ResolverServer) execute(ctx context.Context, tool string, params map[string]interface{}, ops []types.Operation, bounded bool) (interface{}, error) {
	userID, err := requireUser(params)
	if err != nil {
		return nil, err
	}
	ents, err := entitiesParam(params)
	if err != nil {
		return nil, err
	}
	if ctx, err = withConversation(ctx, params); err != nil {
		return nil, err
	}
	message, _ := params["message"].(string)

	resp, err := rs.engine.Execute(ctx, engine.Request{
		UserID:         userID,
		Operations:     ops,
		Message:        message,
		Entities:       ents,
		Bounded:        bounded,
		MaxConcurrency: intParam(params, "max_concurrency"),
	})
	if err != nil {
		return nil, rs.fail(ctx, tool, err)
	}
	return map[string]interface{}{
		"result":      resp.Result,
		"resolutions": resp.Resolutions,
		"text":        resp.Text,
	}, nil
}

func (rs *ResolverServer) handleAnalyzePatterns(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := requireUser(params)
	if err != nil {
		return nil, err
	}
	if ctx, err = withConversation(ctx, params); err != nil {
		return nil, err
	}

	report, err := rs.engine.Patterns(ctx, userID)
	if err != nil {
		return nil, rs.fail(ctx, ToolAnalyzePatterns, err)
	}
	return report, nil
}

func (rs *ResolverServer) handleSuggestEntities(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := requireUser(params)
	if err != nil {
		return nil, err
	}
	query, _ := params["query"].(string)
	ents, err := entitiesParam(params)
	if err != nil {
		return nil, err
	}

	resp, err := rs.engine.Suggest(ctx, userID, query, intParam(params, "limit"), ents)
	if err != nil {
		return nil, rs.fail(ctx, ToolSuggestEntities, err)
	}
	return resp, nil
}

func (rs *ResolverServer) handleClusterEntities(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := requireUser(params)
	if err != nil {
		return nil, err
	}
	ents, err := entitiesParam(params)
	if err != nil {
		return nil, err
	}
	threshold, _ := params["threshold"].(float64)

	resp, err := rs.engine.Clusters(ctx, userID, threshold, ents)
	if err != nil {
		return nil, rs.fail(ctx, ToolClusterEntities, err)
	}
	return resp, nil
}

func (rs *ResolverServer) handleClearContext(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := requireUser(params)
	if err != nil {
		return nil, err
	}
	if err := rs.engine.ClearContext(ctx, userID); err != nil {
		return nil, rs.fail(ctx, ToolClearContext, err)
	}
	return map[string]interface{}{"cleared": true, "user_id": userID}, nil
}

func (rs *ResolverServer) fail(ctx context.Context, tool string, err error) error {
	rs.logger.WithContext(ctx).LogError("MCP tool failed", err, "tool", tool)
	return err
}

func requireUser(params map[string]interface{}) (types.UserID, error) {
	raw, _ := params["user_id"].(string)
	userID := types.UserID(strings.TrimSpace(raw))
	if err := userID.Validate(); err != nil {
		return "", errors.New("user_id is required")
	}
	return userID, nil
}

func intParam(params map[string]interface{}, key string) int {
	if v, ok := params[key].(float64); ok {
		return int(v)
	}
	if v, ok := params[key].(int); ok {
		return v
	}
	return 0
}

// rebind converts a decoded JSON value into dst through its json tags
func rebind(value, dst interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func entitiesParam(params map[string]interface{}) ([]types.Entity, error) {
	raw, ok := params["entities"]
	if !ok || raw == nil {
		return nil, nil
	}
	var ents []types.Entity
	if err := rebind(raw, &ents); err != nil {
		return nil, fmt.Errorf("invalid entities: %w", err)
	}
	return ents, nil
}

func withConversation(ctx context.Context, params map[string]interface{}) (context.Context, error) {
	raw, ok := params["conversation"]
	if !ok || raw == nil {
		return ctx, nil
	}
	var conv patterns.Conversation
	if err := rebind(raw, &conv); err != nil {
		return ctx, fmt.Errorf("invalid conversation: %w", err)
	}
	return patterns.WithConversation(ctx, conv), nil
}

func operationTypeNames() []string {
	all := types.AllOperationTypes()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = string(t)
	}
	return names
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

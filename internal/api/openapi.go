package api

import (
	"encoding/json"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"lerian-entity-resolver/internal/api/response"
	"lerian-entity-resolver/internal/types"
)

// Document describes the /api/v1 routes as an OpenAPI 3 document
func Document(version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Entity Resolver API",
			Description: "Resolves vague references to calendar events and tasks, and runs batches of operations against them.",
			Version:     version,
		},
	}

	entity := entitySchema()
	conversation := conversationSchema()
	userID := openapi3.NewStringSchema().WithMinLength(1)

	execute := openapi3.NewObjectSchema().
		WithProperty("user_id", userID).
		WithProperty("operations", openapi3.NewArraySchema().WithItems(operationSchema())).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("entities", openapi3.NewArraySchema().WithItems(entity)).
		WithProperty("mode", openapi3.NewStringSchema().WithEnum("sequential", "bounded")).
		WithProperty("max_concurrency", openapi3.NewIntegerSchema().WithMin(0)).
		WithProperty("conversation", conversation)
	execute.Required = []string{"user_id", "operations"}

	resolve := openapi3.NewObjectSchema().
		WithProperty("user_id", userID).
		WithProperty("reference", openapi3.NewStringSchema()).
		WithProperty("entities", openapi3.NewArraySchema().WithItems(entity)).
		WithProperty("conversation", conversation)
	resolve.Required = []string{"user_id", "reference"}

	patterns := openapi3.NewObjectSchema().
		WithProperty("user_id", userID).
		WithProperty("conversation", conversation)
	patterns.Required = []string{"user_id"}

	suggest := openapi3.NewObjectSchema().
		WithProperty("user_id", userID).
		WithProperty("query", openapi3.NewStringSchema()).
		WithProperty("limit", openapi3.NewIntegerSchema().WithMin(0)).
		WithProperty("entities", openapi3.NewArraySchema().WithItems(entity))
	suggest.Required = []string{"user_id", "query"}

	clusters := openapi3.NewObjectSchema().
		WithProperty("user_id", userID).
		WithProperty("threshold", openapi3.NewFloat64Schema().WithMin(0).WithMax(1)).
		WithProperty("entities", openapi3.NewArraySchema().WithItems(entity))
	clusters.Required = []string{"user_id"}

	doc.AddOperation("/api/v1/health", http.MethodGet, get("health", "Service and dependency health"))
	doc.AddOperation("/api/v1/openapi.json", http.MethodGet, get("openapi", "This document"))
	doc.AddOperation("/api/v1/operations", http.MethodPost, post("executeOperations", "Run a batch of operations", execute))
	doc.AddOperation("/api/v1/resolve", http.MethodPost, post("resolveReference", "Resolve a vague reference", resolve))
	doc.AddOperation("/api/v1/updates", http.MethodPost, post("processUpdate", "Resolve the target of a free-text update", resolve))
	doc.AddOperation("/api/v1/patterns", http.MethodPost, post("analyzePatterns", "Classify the user's conversation", patterns))
	doc.AddOperation("/api/v1/suggestions", http.MethodPost, post("suggestEntities", "Rank entities by similarity to a query", suggest))
	doc.AddOperation("/api/v1/clusters", http.MethodPost, post("clusterEntities", "Group similar entities", clusters))

	forget := openapi3.NewOperation()
	forget.OperationID = "clearContext"
	forget.Summary = "Forget the user's active reference"
	forget.Parameters = openapi3.Parameters{
		{Value: openapi3.NewPathParameter("userID").WithSchema(openapi3.NewStringSchema())},
	}
	forget.AddResponse(http.StatusOK, openapi3.NewResponse().WithDescription("Context cleared").WithJSONSchema(successSchema()))
	forget.AddResponse(http.StatusBadRequest, errorResponse())
	doc.AddOperation("/api/v1/users/{userID}/context", http.MethodDelete, forget)

	events := openapi3.NewOperation()
	events.OperationID = "streamEvents"
	events.Summary = "WebSocket stream of batch and context events for one user"
	events.Parameters = openapi3.Parameters{
		{Value: openapi3.NewQueryParameter("user_id").WithRequired(true).WithSchema(openapi3.NewStringSchema())},
	}
	events.AddResponse(http.StatusSwitchingProtocols, openapi3.NewResponse().WithDescription("Upgraded to a WebSocket"))
	events.AddResponse(http.StatusBadRequest, errorResponse())
	doc.AddOperation("/api/v1/events", http.MethodGet, events)

	return doc
}

func get(id, summary string) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Summary = summary
	op.AddResponse(http.StatusOK, openapi3.NewResponse().WithDescription("OK").WithJSONSchema(openapi3.NewObjectSchema().WithAnyAdditionalProperties()))
	return op
}

func post(id, summary string, body *openapi3.Schema) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Summary = summary
	op.RequestBody = &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(body),
	}
	op.AddResponse(http.StatusOK, openapi3.NewResponse().WithDescription("OK").WithJSONSchema(successSchema()))
	op.AddResponse(http.StatusBadRequest, errorResponse())
	op.AddResponse(http.StatusUnprocessableEntity, errorResponse())
	return op
}

func operationSchema() *openapi3.Schema {
	kinds := make([]interface{}, 0, len(types.AllOperationTypes()))
	for _, t := range types.AllOperationTypes() {
		kinds = append(kinds, string(t))
	}
	s := openapi3.NewObjectSchema().
		WithProperty("type", openapi3.NewStringSchema().WithEnum(kinds...)).
		WithProperty("payload", openapi3.NewObjectSchema().WithAnyAdditionalProperties())
	s.Required = []string{"type"}
	return s
}

func entitySchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewStringSchema()).
		WithProperty("title", openapi3.NewStringSchema()).
		WithProperty("kind", openapi3.NewStringSchema().WithEnum(string(types.KindEvent), string(types.KindTask))).
		WithProperty("due", openapi3.NewDateTimeSchema()).
		WithProperty("status", openapi3.NewStringSchema()).
		WithProperty("list_id", openapi3.NewStringSchema()).
		WithProperty("payload", openapi3.NewObjectSchema().WithAnyAdditionalProperties())
	s.Required = []string{"id", "title", "kind"}
	return s
}

func conversationSchema() *openapi3.Schema {
	message := openapi3.NewObjectSchema().
		WithProperty("role", openapi3.NewStringSchema()).
		WithProperty("content", openapi3.NewStringSchema()).
		WithProperty("agent", openapi3.NewStringSchema()).
		WithProperty("timestamp", openapi3.NewDateTimeSchema())
	message.Required = []string{"role", "content"}

	memory := openapi3.NewObjectSchema().
		WithProperty("summary", openapi3.NewStringSchema()).
		WithProperty("agent", openapi3.NewStringSchema()).
		WithProperty("created_at", openapi3.NewDateTimeSchema())
	memory.Required = []string{"summary"}

	return openapi3.NewObjectSchema().
		WithProperty("messages", openapi3.NewArraySchema().WithItems(message)).
		WithProperty("memories", openapi3.NewArraySchema().WithItems(memory))
}

func successSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("data", openapi3.NewSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("timestamp", openapi3.NewStringSchema())
	s.Required = []string{"data", "timestamp"}
	return s
}

func errorResponse() *openapi3.Response {
	details := openapi3.NewObjectSchema().
		WithProperty("code", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("details", openapi3.NewStringSchema())
	details.Required = []string{"code", "message"}

	s := openapi3.NewObjectSchema().
		WithProperty("error", details).
		WithProperty("timestamp", openapi3.NewStringSchema()).
		WithProperty("request_id", openapi3.NewStringSchema())
	s.Required = []string{"error", "timestamp"}
	return openapi3.NewResponse().WithDescription("Error").WithJSONSchema(s)
}

// openAPIHandler serves the document rendered once at startup
func openAPIHandler(version string) http.HandlerFunc {
	body, err := json.Marshal(Document(version))
	return func(w http.ResponseWriter, _ *http.Request) {
		if err != nil {
			response.WriteInternalError(w, "Failed to render API document", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

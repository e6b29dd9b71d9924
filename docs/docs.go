// Package docs is generated by swag from the handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {"get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}},
        "/readyz": {"get": {"tags": ["health"], "summary": "Readiness check", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}},
        "/api/sync": {"post": {"tags": ["sync"], "summary": "Queue a data sync run", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/api/sync/models/{type}/{id}": {"post": {"tags": ["sync"], "summary": "Queue a targeted push of one entity", "parameters": [{"type": "string", "name": "type", "in": "path", "required": true}, {"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/sync/status": {"get": {"tags": ["sync"], "summary": "Current data sync status", "responses": {"200": {"description": "OK"}}}},
        "/api/sync/status/stream": {"get": {"tags": ["sync"], "summary": "Stream data sync status over a websocket", "responses": {"101": {"description": "Switching Protocols"}}}},
        "/api/sync/queue-counts": {"get": {"tags": ["sync"], "summary": "Pending entities and error counts", "responses": {"200": {"description": "OK"}}}},
        "/api/sync/runs": {"get": {"tags": ["sync"], "summary": "List aggregate runs", "responses": {"200": {"description": "OK"}}}},
        "/api/sync/runs/{id}": {"get": {"tags": ["sync"], "summary": "Get one aggregate run", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/sync/positions": {"get": {"tags": ["sync"], "summary": "Pull cursors and push watermarks", "responses": {"200": {"description": "OK"}}}},
        "/api/sync/errors": {"get": {"tags": ["errors"], "summary": "List sync errors", "responses": {"200": {"description": "OK"}}}},
        "/api/sync/errors/{id}": {"get": {"tags": ["errors"], "summary": "Get one sync error", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/sync/errors/{id}/archive": {"post": {"tags": ["errors"], "summary": "Archive one sync error", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/api/sync/errors/{id}/restore": {"post": {"tags": ["errors"], "summary": "Restore one archived sync error", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/api/sync/errors/archive": {"post": {"tags": ["errors"], "summary": "Archive sync errors by id", "responses": {"200": {"description": "OK"}}}},
        "/api/sync/errors/restore": {"post": {"tags": ["errors"], "summary": "Restore sync errors by id", "responses": {"200": {"description": "OK"}}}},
        "/api/sync/errors/archive-all": {"post": {"tags": ["errors"], "summary": "Archive every active sync error matching the filter", "responses": {"200": {"description": "OK"}}}},
        "/api/sync/errors/restore-all": {"post": {"tags": ["errors"], "summary": "Restore every archived sync error matching the filter", "responses": {"200": {"description": "OK"}}}},
        "/api/webhooks/subscriptions": {
            "get": {"tags": ["webhooks"], "summary": "List webhook subscriptions", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["webhooks"], "summary": "Register a webhook subscription with the CRM", "responses": {"200": {"description": "OK"}, "502": {"description": "Bad Gateway"}}}
        },
        "/api/webhooks/subscriptions/{id}/rotate": {"post": {"tags": ["webhooks"], "summary": "Rotate a subscription's signing secret", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/webhooks/crm/{subscription_id}": {"post": {"tags": ["webhooks"], "summary": "Receive a CRM webhook delivery", "parameters": [{"type": "integer", "name": "subscription_id", "in": "path", "required": true}, {"type": "string", "name": "X-Signature", "in": "header", "required": true}, {"type": "string", "name": "X-Delivery-Id", "in": "header"}], "responses": {"204": {"description": "No Content"}, "400": {"description": "Bad Request"}, "401": {"description": "Unauthorized"}, "404": {"description": "Not Found"}, "413": {"description": "Request Entity Too Large"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "CRM Sync API",
	Description:      "Bidirectional CRM sync runs, sync errors and webhook ingestion.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

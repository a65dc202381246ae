// Package docs registers the swagger document of the watcher's HTTP API.
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
        "/v1/session": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Current session",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/session.Status"}}
                }
            }
        },
        "/v1/session/device": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Select device",
                "parameters": [
                    {"description": "Device to watch", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.selectDeviceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/session.Status"}},
                    "400": {"description": "Missing device id.", "schema": {"type": "string"}}
                }
            }
        },
        "/v1/session/view": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["session"],
                "summary": "Set view",
                "description": "The detailed view polls detail snapshots in the background",
                "parameters": [
                    {"description": "overview or detailed", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.setViewRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Unknown view", "schema": {"type": "string"}}
                }
            }
        },
        "/v1/session/commands": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["commands"],
                "summary": "Send command",
                "description": "Fire-and-forget; the result arrives later on the command-result stream",
                "parameters": [
                    {"description": "Command", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.commandRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.commandResponse"}},
                    "400": {"description": "Unknown command type", "schema": {"type": "string"}},
                    "409": {"description": "Push channel not connected.", "schema": {"type": "string"}},
                    "429": {"description": "rate limit exceeded", "schema": {"type": "string"}}
                }
            }
        },
        "/v1/session/refresh": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["session"],
                "summary": "Refresh",
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Missing device id.", "schema": {"type": "string"}}
                }
            }
        },
        "/v1/session/details/latest": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Latest detail snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.latestDetailResponse"}},
                    "404": {"description": "No detail snapshot", "schema": {"type": "string"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.selectDeviceRequest": {
            "type": "object",
            "properties": {"deviceId": {"type": "string"}}
        },
        "handlers.setViewRequest": {
            "type": "object",
            "properties": {"view": {"type": "string", "enum": ["overview", "detailed"]}}
        },
        "handlers.commandRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["shell", "service", "diagnostics", "collect-details"]},
                "payload": {"type": "string"}
            }
        },
        "handlers.commandResponse": {
            "type": "object",
            "properties": {"commandId": {"type": "string"}}
        },
        "handlers.latestDetailResponse": {
            "type": "object",
            "properties": {
                "snapshot": {"$ref": "#/definitions/models.DetailSnapshot"},
                "payload": {"type": "object"}
            }
        },
        "models.Device": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "hostname": {"type": "string"},
                "ipAddress": {"type": "string"},
                "os": {"type": "string"},
                "status": {"type": "string", "enum": ["ONLINE", "OFFLINE"]},
                "lastSeenAt": {"type": "string"}
            }
        },
        "models.MetricSample": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "cpuUsage": {"type": "number"},
                "memoryUsage": {"type": "number"},
                "diskUsage": {"type": "number"},
                "networkIn": {"type": "number"},
                "networkOut": {"type": "number"},
                "createdAt": {"type": "string"}
            }
        },
        "models.DetailSnapshot": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "detailsJson": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "models.CommandResult": {
            "type": "object",
            "properties": {
                "deviceId": {"type": "string"},
                "commandId": {"type": "string"},
                "type": {"type": "string"},
                "status": {"type": "string"},
                "output": {"type": "string"},
                "error": {"type": "string"},
                "startedAt": {"type": "string"},
                "finishedAt": {"type": "string"}
            }
        },
        "session.Status": {
            "type": "object",
            "properties": {
                "deviceId": {"type": "string"},
                "device": {"$ref": "#/definitions/models.Device"},
                "metrics": {"type": "array", "items": {"$ref": "#/definitions/models.MetricSample"}},
                "details": {"type": "array", "items": {"$ref": "#/definitions/models.DetailSnapshot"}},
                "results": {"type": "array", "items": {"$ref": "#/definitions/models.CommandResult"}},
                "state": {"type": "string", "enum": ["connecting", "connected", "disconnected"]},
                "loading": {"type": "boolean"},
                "error": {"type": "string"},
                "view": {"type": "string", "enum": ["overview", "detailed"]},
                "droppedEvents": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "fleetwatch session API",
	Description:      "Realtime session of one watched device: snapshot, push stream, detail polling and commands.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

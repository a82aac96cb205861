// Package docs registers the OpenAPI document served under /swagger.
// Keep it in sync with the godoc annotations in internal/transport/http (swag init -g cmd/api/main.go).
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
        "/receipts/process": {
            "post": {
                "description": "Validates the image (JPEG or PNG, at most 10 MiB), stores it and enqueues a scan job. Processing happens in the background.",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["receipts"],
                "summary": "Submit a receipt image for scanning",
                "parameters": [
                    {"type": "string", "description": "caller id", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "file", "description": "receipt image", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/httptransport.submitResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/receipts/jobs/{jobId}": {
            "get": {
                "description": "Unknown, expired and foreign job ids answer 200 with status not_found.",
                "produces": ["application/json"],
                "tags": ["receipts"],
                "summary": "Get scan job status",
                "parameters": [
                    {"type": "string", "description": "caller id", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "job id", "name": "jobId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.Snapshot"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/receipts/jobs/{jobId}/events": {
            "get": {
                "description": "Server-sent events: the current snapshot first, then every change until the job is terminal.",
                "produces": ["text/event-stream"],
                "tags": ["receipts"],
                "summary": "Stream scan job progress",
                "parameters": [
                    {"type": "string", "description": "caller id", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "job id", "name": "jobId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.Snapshot"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        }
    },
    "definitions": {
        "entity.JobStatus": {
            "type": "string",
            "enum": ["waiting", "active", "completed", "failed", "not_found"]
        },
        "entity.Snapshot": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "status": {"$ref": "#/definitions/entity.JobStatus"},
                "progress": {"type": "integer"},
                "data": {"type": "object"},
                "error": {"type": "string"}
            }
        },
        "httptransport.apiError": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        },
        "httptransport.submitResp": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "status": {"$ref": "#/definitions/entity.JobStatus"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Receipt Scan Service API",
	Description:      "Asynchronous receipt scanning: submit an image, poll or stream the job until it completes.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

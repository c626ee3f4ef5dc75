package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Session Insights API",
        "description": "Predictive analytics over appointment history: engagement, cancellation patterns, cancellation risk and dashboard alerts.",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Insights", "description": "Engagement, patterns, predictions and alerts"},
        {"name": "Insights Admin", "description": "Model training, statistics refresh and cache maintenance"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is unavailable"}
                }
            }
        },
        "/api/v1/insights/alerts": {
            "get": {
                "tags": ["Insights"],
                "summary": "Dashboard alerts",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "owner_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/insights/clients/{clientID}/engagement": {
            "get": {
                "tags": ["Insights"],
                "summary": "Client engagement report",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "clientID", "in": "path", "required": true, "type": "string"},
                    {"name": "days", "in": "query", "type": "integer", "default": 30}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid window", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/insights/clients/{clientID}/stats": {
            "get": {
                "tags": ["Insights"],
                "summary": "Stored client statistics",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "clientID", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not refreshed yet", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/insights/cancellation-patterns": {
            "get": {
                "tags": ["Insights"],
                "summary": "Cancellation patterns",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "days", "in": "query", "type": "integer", "default": 60},
                    {"name": "use_cache", "in": "query", "type": "boolean", "default": true},
                    {"name": "owner_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/insights/predictions": {
            "post": {
                "tags": ["Insights"],
                "summary": "Predict cancellation probability",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PredictionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/insights/predictions/{appointmentID}": {
            "get": {
                "tags": ["Insights"],
                "summary": "Predict cancellation probability for a stored appointment",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "appointmentID", "in": "path", "required": true, "type": "string"},
                    {"name": "retrain", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Appointment not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/insights/stats": {
            "get": {
                "tags": ["Insights"],
                "summary": "Engine overview",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/insights/model/train": {
            "post": {
                "tags": ["Insights Admin"],
                "summary": "Train the cancellation model",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "async", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "Trained", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Insufficient data", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/insights/stats/refresh": {
            "post": {
                "tags": ["Insights Admin"],
                "summary": "Refresh stored statistics",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "async", "in": "query", "type": "boolean"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/RefreshStatsRequest"}}
                ],
                "responses": {
                    "200": {"description": "Refreshed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/insights/cache/purge": {
            "post": {
                "tags": ["Insights Admin"],
                "summary": "Remove cached insights",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "PredictionRequest": {
            "type": "object",
            "properties": {
                "appointment_id": {"type": "string"},
                "client_id": {"type": "string"},
                "owner_id": {"type": "string"},
                "scheduled_at": {"type": "string", "format": "date-time"},
                "retrain": {"type": "boolean"}
            }
        },
        "RefreshStatsRequest": {
            "type": "object",
            "properties": {
                "client_id": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

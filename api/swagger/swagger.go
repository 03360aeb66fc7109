package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Mentor Trust API",
        "description": "Audit ledger and two-person approval workflow for platform administrators",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Pending Actions", "description": "Two-person approval of high-risk admin actions"},
        {"name": "Audit Log", "description": "Hash-chained administrative audit ledger"},
        {"name": "Auth", "description": "Re-authentication before sensitive actions"},
        {"name": "Notifications", "description": "Admin notification inbox"}
    ],
    "paths": {
        "/pending-actions": {
            "get": {
                "tags": ["Pending Actions"],
                "summary": "List pending action requests",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["pending", "approved", "rejected", "executed", "cancelled", "expired", "all"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Pending Actions"],
                "summary": "Request approval for a high-risk action",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePendingActionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Re-authentication required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pending-actions/{id}": {
            "get": {
                "tags": ["Pending Actions"],
                "summary": "Get pending action",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pending-actions/{id}/approve": {
            "post": {
                "tags": ["Pending Actions"],
                "summary": "Approve another admin's request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Self approval", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pending-actions/{id}/reject": {
            "post": {
                "tags": ["Pending Actions"],
                "summary": "Reject a request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectPendingActionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pending-actions/{id}/execute": {
            "post": {
                "tags": ["Pending Actions"],
                "summary": "Execute an approved request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not approved or already executed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "No executor for action", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pending-actions/{id}/cancel": {
            "post": {
                "tags": ["Pending Actions"],
                "summary": "Cancel your own pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/audit-log": {
            "get": {
                "tags": ["Audit Log"],
                "summary": "List audit records",
                "parameters": [
                    {"name": "actorId", "in": "query", "type": "string"},
                    {"name": "action", "in": "query", "type": "string"},
                    {"name": "targetType", "in": "query", "type": "string"},
                    {"name": "targetId", "in": "query", "type": "string"},
                    {"name": "startSeq", "in": "query", "type": "integer"},
                    {"name": "endSeq", "in": "query", "type": "integer"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/audit-log/verify": {
            "get": {
                "tags": ["Audit Log"],
                "summary": "Verify the hash chain",
                "parameters": [
                    {"name": "startSeq", "in": "query", "type": "integer"},
                    {"name": "endSeq", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/audit-log/export": {
            "get": {
                "tags": ["Audit Log"],
                "summary": "Export audit records",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "actorId", "in": "query", "type": "string"},
                    {"name": "action", "in": "query", "type": "string"},
                    {"name": "startSeq", "in": "query", "type": "integer"},
                    {"name": "endSeq", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        },
        "/reauth": {
            "post": {
                "tags": ["Auth"],
                "summary": "Confirm the caller's password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReauthRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Wrong password", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "Recent notifications",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreatePendingActionRequest": {
            "type": "object",
            "properties": {
                "action": {"type": "string"},
                "actionLabel": {"type": "string"},
                "targetType": {"type": "string"},
                "targetId": {"type": "string"},
                "targetIds": {"type": "array", "items": {"type": "string"}},
                "targetName": {"type": "string"},
                "reason": {"type": "string"},
                "details": {"type": "object"}
            },
            "required": ["action", "targetType", "reason"]
        },
        "RejectPendingActionRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            },
            "required": ["reason"]
        },
        "ReauthRequest": {
            "type": "object",
            "properties": {
                "password": {"type": "string"}
            },
            "required": ["password"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "pageSize": {"type": "integer"},
                "totalCount": {"type": "integer"},
                "totalPages": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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

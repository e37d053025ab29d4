// Package docs registers the OpenAPI description served under /swagger.
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
        "/auth/token": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Authentication"],
                "summary": "Generate a JWT bearer token",
                "parameters": [
                    {"description": "username", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.TokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token successfully generated", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "400": {"description": "Invalid request parameters", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        },
        "/loans": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Loans"],
                "summary": "List loans",
                "parameters": [
                    {"type": "string", "description": "Account ID (UUID)", "name": "accountId", "in": "query"},
                    {"type": "string", "description": "E-book ID (UUID)", "name": "ebookId", "in": "query"},
                    {"type": "string", "description": "ACTIVE or TERMINATED", "name": "status", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Matching loans", "schema": {"type": "array", "items": {"$ref": "#/definitions/dto.LoanResponse"}}},
                    "400": {"description": "Invalid query parameter", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Loans"],
                "summary": "Borrow an e-book",
                "parameters": [
                    {"description": "Loan creation request payload", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.CreateLoanRequest"}}
                ],
                "responses": {
                    "201": {"description": "Loan successfully created", "schema": {"$ref": "#/definitions/dto.LoanResponse"}},
                    "400": {"description": "Invalid payload, loan limit reached, out of stock or insufficient funds", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "401": {"description": "Account is not logged in", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "404": {"description": "Account or e-book not found", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        },
        "/loans/{loanID}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Loans"],
                "summary": "Retrieve loan details",
                "parameters": [
                    {"type": "string", "description": "Loan ID (UUID)", "name": "loanID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Loan details", "schema": {"$ref": "#/definitions/dto.LoanResponse"}},
                    "400": {"description": "Invalid loan ID", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "404": {"description": "Loan not found", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Loans"],
                "summary": "Terminate a loan",
                "parameters": [
                    {"type": "string", "description": "Loan ID (UUID)", "name": "loanID", "in": "path", "required": true},
                    {"description": "Target status (only TERMINATED is supported)", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.UpdateLoanRequest"}}
                ],
                "responses": {
                    "200": {"description": "Loan terminated", "schema": {"$ref": "#/definitions/dto.LoanResponse"}},
                    "400": {"description": "Invalid loan ID or payload", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "404": {"description": "Loan not found", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "409": {"description": "Loan is already terminated", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        },
        "/loans/{loanID}/notices": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Loans"],
                "summary": "List notices sent for a loan",
                "parameters": [
                    {"type": "string", "description": "Loan ID (UUID)", "name": "loanID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Notices in the order they were sent", "schema": {"type": "array", "items": {"$ref": "#/definitions/dto.NoticeResponse"}}},
                    "400": {"description": "Invalid loan ID", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "404": {"description": "Loan not found", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "dto.CreateLoanRequest": {
            "type": "object",
            "required": ["accountId", "ebookId"],
            "properties": {
                "accountId": {"type": "string"},
                "ebookId": {"type": "string"}
            }
        },
        "dto.UpdateLoanRequest": {
            "type": "object",
            "required": ["status"],
            "properties": {
                "status": {"type": "string", "enum": ["TERMINATED"]}
            }
        },
        "dto.TokenRequest": {
            "type": "object",
            "required": ["username"],
            "properties": {
                "username": {"type": "string"}
            }
        },
        "dto.LoanResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "accountId": {"type": "string"},
                "ebookId": {"type": "string"},
                "startDate": {"type": "string"},
                "endDate": {"type": "string"},
                "durationDays": {"type": "integer"},
                "status": {"type": "string"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "dto.NoticeResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "loanId": {"type": "string"},
                "recipient": {"type": "string"},
                "kind": {"type": "string"},
                "subject": {"type": "string"},
                "body": {"type": "string"},
                "targetDate": {"type": "string"},
                "sentAt": {"type": "string"}
            }
        },
        "dto.ErrorDetail": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "field": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "dto.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"$ref": "#/definitions/dto.ErrorDetail"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "E-book Lending API",
	Description:      "Loan lifecycle service for an e-book store: borrow, terminate and inspect loans.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

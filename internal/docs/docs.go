// Package docs holds the OpenAPI description served at /swagger/.
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
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/wallet/balance": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Available, locked and settled USDT with a replay consistency flag",
                "produces": ["application/json"],
                "tags": ["wallet"],
                "summary": "Get wallet balance",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.balanceResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/wallet/history": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["wallet"],
                "summary": "List ledger entries",
                "parameters": [
                    {"type": "integer", "description": "Maximum entries", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "properties": {
                        "success": {"type": "boolean"},
                        "entries": {"type": "array", "items": {"$ref": "#/definitions/models.LedgerEntry"}}
                    }}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/wallet/deposit-address": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Returns the live TRC20 deposit address, creating one when none is active",
                "produces": ["application/json"],
                "tags": ["wallet"],
                "summary": "Issue deposit address",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.depositAddressResponse"}},
                    "403": {"description": "Deposits paused", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/exchange/rate": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["exchange"],
                "summary": "Current USDT/INR rate after spread",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "properties": {
                        "success": {"type": "boolean"},
                        "pair": {"type": "string", "example": "USDT/INR"},
                        "rate": {"type": "string", "example": "88.42"}
                    }}}
                }
            }
        },
        "/exchange/orders": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["exchange"],
                "summary": "List exchange orders",
                "parameters": [
                    {"type": "integer", "description": "Maximum orders", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "properties": {
                        "success": {"type": "boolean"},
                        "orders": {"type": "array", "items": {"$ref": "#/definitions/models.ExchangeOrder"}}
                    }}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Locks the USDT and records a pending order. Retries with the same idempotency key return the original order",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["exchange"],
                "summary": "Create exchange order",
                "parameters": [
                    {"type": "string", "description": "Idempotency key, overrides the body field", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Order", "name": "order", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.createOrderRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"type": "object", "properties": {
                        "success": {"type": "boolean"},
                        "order": {"$ref": "#/definitions/models.ExchangeOrder"}
                    }}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "403": {"description": "Exchanges paused", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "422": {"description": "Insufficient funds or daily limit", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/withdrawals/usdt": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["withdrawals"],
                "summary": "List USDT withdrawals",
                "parameters": [
                    {"type": "integer", "description": "Maximum withdrawals", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "properties": {
                        "success": {"type": "boolean"},
                        "withdrawals": {"type": "array", "items": {"$ref": "#/definitions/models.UsdtWithdrawal"}}
                    }}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Locks amount plus fee and queues an on-chain TRC20 transfer",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["withdrawals"],
                "summary": "Create USDT withdrawal",
                "parameters": [
                    {"type": "string", "description": "Idempotency key, overrides the body field", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Withdrawal", "name": "withdrawal", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.createWithdrawalRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"type": "object", "properties": {
                        "success": {"type": "boolean"},
                        "withdrawal": {"$ref": "#/definitions/models.UsdtWithdrawal"}
                    }}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "422": {"description": "Insufficient funds or daily limit", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/webhooks/payout": {
            "post": {
                "description": "Payout status callback, authenticated by an HMAC-SHA256 signature over the raw body",
                "consumes": ["application/json", "application/xml"],
                "produces": ["application/json"],
                "tags": ["webhooks"],
                "summary": "Payout gateway webhook",
                "parameters": [
                    {"type": "string", "description": "Razorpay signature", "name": "X-Razorpay-Signature", "in": "header"},
                    {"type": "string", "description": "Bank host signature", "name": "X-Payout-Signature", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Bad signature", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/admin/exchange-orders/{id}/approve": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Approve a pending exchange order for payout",
                "parameters": [
                    {"type": "string", "description": "Order ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "properties": {
                        "success": {"type": "boolean"},
                        "order": {"$ref": "#/definitions/models.ExchangeOrder"}
                    }}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Order is not pending", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/admin/exchange-orders/{id}/reject": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Reject a pending exchange order and refund its lock",
                "parameters": [
                    {"type": "string", "description": "Order ID", "name": "id", "in": "path", "required": true},
                    {"description": "Reason", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.rejectOrderRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "properties": {
                        "success": {"type": "boolean"},
                        "order": {"$ref": "#/definitions/models.ExchangeOrder"}
                    }}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Order is not pending", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/admin/credits": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Idempotent by reference_id. 201 when applied, 200 for a repeat",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Manual credit",
                "parameters": [
                    {"description": "Credit", "name": "credit", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.manualCreditRequest"}}
                ],
                "responses": {
                    "200": {"description": "Already applied"},
                    "201": {"description": "Applied"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/admin/settings/{key}": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Update a live setting",
                "parameters": [
                    {"type": "string", "description": "Setting key", "name": "key", "in": "path", "required": true},
                    {"description": "Value", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.updateSettingRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Unknown key or bad value", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "services.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}},
                "limit": {"type": "string"}
            }
        },
        "handlers.balanceResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "currency": {"type": "string", "example": "USDT"},
                "balance": {"$ref": "#/definitions/models.Balance"}
            }
        },
        "handlers.depositAddressResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "address": {"type": "string"},
                "network": {"type": "string", "example": "TRC20"},
                "expires_at": {"type": "string", "format": "date-time"},
                "qr_code": {"type": "string", "description": "data URL of a PNG"}
            }
        },
        "handlers.createOrderRequest": {
            "type": "object",
            "required": ["usdt_amount"],
            "properties": {
                "usdt_amount": {"type": "string", "example": "25.5"},
                "bank_account_id": {"type": "string", "format": "uuid"},
                "bank_details": {"$ref": "#/definitions/models.BankDetails"},
                "idempotency_key": {"type": "string"}
            }
        },
        "handlers.createWithdrawalRequest": {
            "type": "object",
            "required": ["address", "amount"],
            "properties": {
                "address": {"type": "string", "example": "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"},
                "amount": {"type": "string", "example": "50"},
                "idempotency_key": {"type": "string"}
            }
        },
        "handlers.rejectOrderRequest": {
            "type": "object",
            "required": ["reason"],
            "properties": {"reason": {"type": "string"}}
        },
        "handlers.manualCreditRequest": {
            "type": "object",
            "required": ["user_id", "amount", "reference_id"],
            "properties": {
                "user_id": {"type": "string"},
                "amount": {"type": "string"},
                "reference_id": {"type": "string"},
                "description": {"type": "string"}
            }
        },
        "handlers.updateSettingRequest": {
            "type": "object",
            "required": ["value"],
            "properties": {"value": {"type": "string"}}
        },
        "models.Balance": {
            "type": "object",
            "properties": {
                "available": {"type": "string"},
                "locked": {"type": "string"},
                "settled": {"type": "string"},
                "is_consistent": {"type": "boolean"}
            }
        },
        "models.BankDetails": {
            "type": "object",
            "required": ["account_number", "ifsc", "account_holder_name"],
            "properties": {
                "account_number": {"type": "string"},
                "ifsc": {"type": "string"},
                "account_holder_name": {"type": "string"}
            }
        },
        "models.LedgerEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "kind": {"type": "string", "enum": ["deposit", "manual_credit", "lock", "finalize", "refund"]},
                "amount": {"type": "string"},
                "reference_id": {"type": "string"},
                "description": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "models.ExchangeOrder": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "usdt_amount": {"type": "string"},
                "inr_amount": {"type": "string"},
                "rate": {"type": "string"},
                "bank_account_id": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "processing", "approved", "completed", "failed"]},
                "idempotency_key": {"type": "string"},
                "failure_reason": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"}
            }
        },
        "models.UsdtWithdrawal": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "destination_address": {"type": "string"},
                "usdt_amount": {"type": "string"},
                "fee": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "processing", "completed", "failed"]},
                "tx_hash": {"type": "string"},
                "failure_reason": {"type": "string"},
                "idempotency_key": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "USDT Settlement API",
	Description:      "USDT wallet, USDT/INR exchange and on-chain withdrawal API",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

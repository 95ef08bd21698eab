// Package docs holds the generated Swagger description of the Remindly API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/reminders": {
            "post": {
                "description": "Create a one-off or recurring reminder and schedule its first occurrences",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Create a reminder",
                "parameters": [
                    {
                        "description": "Reminder definition",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/ports.CreateReminderRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/entities.Reminder"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            },
            "get": {
                "description": "Live reminders of the owner, each with its next fire time",
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "List an owner's reminders",
                "parameters": [
                    {"type": "string", "description": "Owner ID", "name": "owner_id", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.ReminderList"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/reminders/import": {
            "post": {
                "description": "Creates a one-off reminder for each future calendar event between from and to that was not imported before",
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Import calendar events as reminders",
                "parameters": [
                    {"type": "string", "description": "Owner ID", "name": "owner_id", "in": "query", "required": true},
                    {"type": "string", "description": "Window start, defaults to now", "name": "from", "in": "query"},
                    {"type": "string", "description": "Window end, defaults to 30 days after from", "name": "to", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Nothing new to import", "schema": {"$ref": "#/definitions/ports.ImportResult"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ports.ImportResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/reminders/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Get reminder by ID",
                "parameters": [
                    {"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entities.Reminder"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            },
            "patch": {
                "description": "Changes start a new definition version; pending occurrences from now on are replaced",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Edit a reminder",
                "parameters": [
                    {"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true},
                    {
                        "description": "Changes",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/ports.UpdateReminderRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entities.Reminder"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            },
            "delete": {
                "description": "Cancels every pending occurrence; deliveries in flight still complete",
                "tags": ["reminders"],
                "summary": "Delete a reminder",
                "parameters": [
                    {"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/reminders/{id}/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Reminder change history",
                "parameters": [
                    {"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.RecordList"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/upcoming": {
            "get": {
                "description": "Occurrences of the owner's reminders between from and to (RFC 3339, at most 90 days apart)",
                "produces": ["application/json"],
                "tags": ["occurrences"],
                "summary": "Upcoming occurrences",
                "parameters": [
                    {"type": "string", "description": "Owner ID", "name": "owner_id", "in": "query", "required": true},
                    {"type": "string", "description": "Window start, defaults to now", "name": "from", "in": "query"},
                    {"type": "string", "description": "Window end, defaults to 30 days after from", "name": "to", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.OccurrenceList"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/upcoming.ics": {
            "get": {
                "produces": ["text/calendar"],
                "tags": ["occurrences"],
                "summary": "Upcoming occurrences as iCalendar",
                "parameters": [
                    {"type": "string", "description": "Owner ID", "name": "owner_id", "in": "query", "required": true},
                    {"type": "string", "description": "Window start, defaults to now", "name": "from", "in": "query"},
                    {"type": "string", "description": "Window end, defaults to 30 days after from", "name": "to", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "VCALENDAR document", "schema": {"type": "string"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/occurrences/{id}/ack": {
            "post": {
                "produces": ["application/json"],
                "tags": ["occurrences"],
                "summary": "Acknowledge a delivered reminder",
                "parameters": [
                    {"type": "string", "description": "Occurrence ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entities.Occurrence"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/occurrences/{id}/resync": {
            "post": {
                "description": "Applies to events deleted in the calendar and to occurrences whose last sync failed permanently",
                "produces": ["application/json"],
                "tags": ["occurrences"],
                "summary": "Push an occurrence to the calendar again",
                "parameters": [
                    {"type": "string", "description": "Occurrence ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/entities.Occurrence"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "entities.Recurrence": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["none", "daily", "weekly", "monthly"]},
                "weekdays": {"type": "array", "items": {"type": "integer"}},
                "day_of_month": {"type": "integer"}
            }
        },
        "entities.EndCondition": {
            "type": "object",
            "properties": {
                "until": {"type": "string", "format": "date-time"},
                "count": {"type": "integer"}
            }
        },
        "entities.Reminder": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "format": "uuid"},
                "owner_id": {"type": "string"},
                "message": {"type": "string"},
                "start_at": {"type": "string", "format": "date-time"},
                "timezone": {"type": "string"},
                "recurrence": {"$ref": "#/definitions/entities.Recurrence"},
                "end": {"$ref": "#/definitions/entities.EndCondition"},
                "active": {"type": "boolean"},
                "version": {"type": "integer"},
                "materialized_through": {"type": "string", "format": "date-time"},
                "source_event_id": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"},
                "deleted_at": {"type": "string", "format": "date-time"}
            }
        },
        "entities.Occurrence": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "format": "uuid"},
                "reminder_id": {"type": "string", "format": "uuid"},
                "definition_version": {"type": "integer"},
                "owner_id": {"type": "string"},
                "title": {"type": "string"},
                "scheduled_at": {"type": "string", "format": "date-time"},
                "delivery_status": {"type": "string", "enum": ["pending", "delivering", "delivered", "failed", "cancelled"]},
                "sync_status": {"type": "string", "enum": ["unsynced", "synced", "conflict", "remote-deleted"]},
                "remote_event_id": {"type": "string"},
                "attempts": {"type": "integer"},
                "next_attempt_at": {"type": "string", "format": "date-time"},
                "last_error": {"type": "string"},
                "shadow_title": {"type": "string"},
                "shadow_time": {"type": "string", "format": "date-time"},
                "sync_error": {"type": "string"},
                "delivered_at": {"type": "string", "format": "date-time"},
                "acknowledged_at": {"type": "string", "format": "date-time"}
            }
        },
        "entities.ReminderRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "format": "uuid"},
                "reminder_id": {"type": "string", "format": "uuid"},
                "owner_id": {"type": "string"},
                "action": {"type": "string", "enum": ["create", "update", "delete"]},
                "version": {"type": "integer"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "ports.RecurrenceInput": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["none", "daily", "weekly", "monthly"]},
                "weekdays": {"type": "array", "items": {"type": "string"}},
                "day_of_month": {"type": "integer"}
            }
        },
        "ports.EndInput": {
            "type": "object",
            "properties": {
                "until": {"type": "string", "format": "date-time"},
                "count": {"type": "integer"}
            }
        },
        "ports.CreateReminderRequest": {
            "type": "object",
            "required": ["owner_id", "message", "start_at"],
            "properties": {
                "owner_id": {"type": "string"},
                "message": {"type": "string"},
                "start_at": {"type": "string", "format": "date-time"},
                "timezone": {"type": "string"},
                "recurrence": {"$ref": "#/definitions/ports.RecurrenceInput"},
                "end": {"$ref": "#/definitions/ports.EndInput"}
            }
        },
        "ports.UpdateReminderRequest": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "start_at": {"type": "string", "format": "date-time"},
                "timezone": {"type": "string"},
                "recurrence": {"$ref": "#/definitions/ports.RecurrenceInput"},
                "end": {"$ref": "#/definitions/ports.EndInput"},
                "clear_end": {"type": "boolean"},
                "active": {"type": "boolean"},
                "expected_version": {"type": "integer"}
            }
        },
        "http.ErrorResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        },
        "http.OccurrenceList": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/entities.Occurrence"}},
                "count": {"type": "integer"}
            }
        },
        "http.ReminderList": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/ports.ReminderSummary"}},
                "count": {"type": "integer"}
            }
        },
        "ports.ImportResult": {
            "type": "object",
            "properties": {
                "imported": {"type": "array", "items": {"$ref": "#/definitions/entities.Reminder"}},
                "skipped": {"type": "integer"}
            }
        },
        "ports.ReminderSummary": {
            "allOf": [
                {"$ref": "#/definitions/entities.Reminder"},
                {
                    "type": "object",
                    "properties": {
                        "next_occurrence": {"type": "string", "format": "date-time"}
                    }
                }
            ]
        },
        "http.RecordList": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/entities.ReminderRecord"}},
                "count": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http"},
	Title:            "Remindly API",
	Description:      "Reminder scheduling, delivery and calendar synchronization",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

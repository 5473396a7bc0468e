package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Timetable Generation Engine API",
        "description": "Asynchronous timetable generation, conflict detection, quality scoring and export.",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Generation", "description": "Start, follow and cancel timetable generation runs"},
        {"name": "Conflicts", "description": "Post-hoc conflict detection and resolution marking"},
        {"name": "Quality", "description": "Quality scoring of arbitrary schedules"},
        {"name": "Export", "description": "CSV and PDF timetable exports"},
        {"name": "Metrics", "description": "Prometheus metrics and run summaries"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is degraded"}
                }
            }
        },
        "/metrics": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Prometheus exposition",
                "produces": ["text/plain"],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/metrics/summary": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Run and cache counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/timetables/{id}/generate": {
            "post": {
                "tags": ["Generation"],
                "summary": "Start a generation run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/GenerateTimetableRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/GenerationRunResponse"}},
                    "400": {"description": "Invalid settings", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Timetable not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "A run is already active", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Generation queue is full", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Snapshot data error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/timetables/{id}/result": {
            "get": {
                "tags": ["Generation"],
                "summary": "Latest result for a timetable",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No result yet", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/timetables/{id}/export": {
            "get": {
                "tags": ["Export"],
                "summary": "Export the latest result",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "400": {"description": "Unsupported format", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No result yet", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/timetables/{id}/conflicts/{conflictId}/resolve": {
            "patch": {
                "tags": ["Conflicts"],
                "summary": "Mark a conflict as resolved",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "conflictId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/ResolveConflictRequest"}}
                ],
                "responses": {
                    "204": {"description": "Resolved"},
                    "404": {"description": "Conflict not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/generation-runs/{runId}": {
            "get": {
                "tags": ["Generation"],
                "summary": "Run status and progress",
                "parameters": [
                    {"name": "runId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/GenerationRunResponse"}},
                    "404": {"description": "Unknown run", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Generation"],
                "summary": "Cancel a run",
                "parameters": [
                    {"name": "runId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "202": {"description": "Cancellation requested", "schema": {"$ref": "#/definitions/GenerationRunResponse"}},
                    "404": {"description": "Unknown run", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/generation-runs/{runId}/result": {
            "get": {
                "tags": ["Generation"],
                "summary": "Terminal result of a run",
                "parameters": [
                    {"name": "runId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown run", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Run not finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/conflicts/detect": {
            "post": {
                "tags": ["Conflicts"],
                "summary": "Detect conflicts in a schedule",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScheduleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid schedule", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/quality/score": {
            "post": {
                "tags": ["Quality"],
                "summary": "Score a schedule",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScheduleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid schedule", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "GenerateTimetableRequest": {
            "type": "object",
            "properties": {
                "settings": {"type": "object", "description": "GenerationSettings replacing the stored timetable settings"}
            }
        },
        "GenerationRunResponse": {
            "type": "object",
            "properties": {
                "runId": {"type": "string"},
                "timetableId": {"type": "string"},
                "algorithm": {"type": "string", "enum": ["greedy", "csp", "backtracking", "genetic", "simulated_annealing", "hybrid"]},
                "status": {"type": "string", "enum": ["QUEUED", "RUNNING", "COMPLETED", "FAILED", "CANCELLED"]},
                "progress": {"$ref": "#/definitions/RunProgress"},
                "resultStatus": {"type": "string", "enum": ["completed", "draft"]},
                "createdAt": {"type": "string", "format": "date-time"},
                "startedAt": {"type": "string", "format": "date-time"},
                "finishedAt": {"type": "string", "format": "date-time"}
            }
        },
        "RunProgress": {
            "type": "object",
            "properties": {
                "percentage": {"type": "number"},
                "step": {"type": "string"},
                "generation": {"type": "integer"},
                "fitness": {"type": "number"}
            }
        },
        "TimeSlotAssignment": {
            "type": "object",
            "properties": {
                "courseId": {"type": "string"},
                "teacherId": {"type": "string"},
                "classroomId": {"type": "string"},
                "day": {"type": "string"},
                "startTime": {"type": "string", "example": "08:00"},
                "endTime": {"type": "string", "example": "09:00"},
                "sessionType": {"type": "string"},
                "divisionId": {"type": "string"},
                "batchId": {"type": "string"},
                "studentCount": {"type": "integer"}
            }
        },
        "ScheduleRequest": {
            "type": "object",
            "properties": {
                "schedule": {"type": "array", "items": {"$ref": "#/definitions/TimeSlotAssignment"}},
                "resources": {"type": "object", "description": "Optional snapshot of teachers, classrooms, courses and settings"}
            }
        },
        "ResolveConflictRequest": {
            "type": "object",
            "properties": {
                "notes": {"type": "string", "maxLength": 2000}
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

package cli

import (
	"encoding/json"
	"strings"
)

// SchemaCmd outputs JSON Schema for mdbg output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Record types to include (ready,session_start,state_change,exception,...). Default: all"`
}

// schemaOrder fixes the definition listing; it doubles as the valid --type
// values.
var schemaOrder = []string{
	"ready",
	"agent_hints",
	"session_start",
	"session_end",
	"state_change",
	"breakpoint_hit",
	"exception",
	"step_complete",
	"module_load",
	"module_unload",
	"process_output",
	"heartbeat",
	"cutoff_reached",
	"error",
	"tmux",
	"process",
	"doctor",
}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := map[string]interface{}{
		"ready":          readySchema(),
		"agent_hints":    agentHintsSchema(),
		"session_start":  sessionStartSchema(),
		"session_end":    sessionEndSchema(),
		"state_change":   stateChangeSchema(),
		"breakpoint_hit": breakpointHitSchema(),
		"exception":      exceptionSchema(),
		"step_complete":  stepCompleteSchema(),
		"module_load":    moduleSchema("module_load", "loads"),
		"module_unload":  moduleSchema("module_unload", "unloads"),
		"process_output": processOutputSchema(),
		"heartbeat":      heartbeatSchema(),
		"cutoff_reached": cutoffSchema(),
		"error":          errorSchema(),
		"tmux":           tmuxSchema(),
		"process":        processSchema(),
		"doctor":         doctorSchema(),
	}

	typesToOutput := c.Type
	if len(typesToOutput) == 0 {
		typesToOutput = schemaOrder
	}

	out := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "mdbg Output Schemas",
		"description": "JSON Schema definitions for all mdbg NDJSON output types",
		"definitions": map[string]interface{}{},
	}

	defs := out["definitions"].(map[string]interface{})
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		if schema, ok := schemas[t]; ok {
			defs[t] = schema
		}
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// locationSchema is shared by every record that carries a source location.
func locationSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Debuggee code position; file and line require loaded symbols",
		"properties": map[string]interface{}{
			"module":       map[string]interface{}{"type": "string"},
			"method":       map[string]interface{}{"type": "string"},
			"method_token": map[string]interface{}{"type": "integer"},
			"il_offset":    map[string]interface{}{"type": "integer"},
			"file":         map[string]interface{}{"type": "string"},
			"line":         map[string]interface{}{"type": "integer"},
		},
	}
}

func readySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Ready",
		"description": "Stream preamble: the session is established and events follow",
		"properties": map[string]interface{}{
			"type":             map[string]interface{}{"type": "string", "const": "ready"},
			"timestamp":        map[string]interface{}{"type": "string", "format": "date-time"},
			"session_id":       map[string]interface{}{"type": "string"},
			"pid":              map[string]interface{}{"type": "integer"},
			"process":          map[string]interface{}{"type": "string"},
			"mode":             map[string]interface{}{"type": "string", "enum": []string{"attach", "launch"}},
			"contract_version": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"type", "session_id", "pid", "contract_version"},
	}
}

func agentHintsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Agent Hints",
		"description": "How to drive the session without tripping over the state machine",
		"properties": map[string]interface{}{
			"type":              map[string]interface{}{"type": "string", "const": "agent_hints"},
			"session_id":        map[string]interface{}{"type": "string"},
			"contract_version":  map[string]interface{}{"type": "integer"},
			"recommended_scope": map[string]interface{}{"type": "string"},
			"hints": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"type", "session_id", "hints"},
	}
}

func sessionStartSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Session Start",
		"description": "Emitted once when a debug session is established",
		"properties": map[string]interface{}{
			"type":            map[string]interface{}{"type": "string", "const": "session_start"},
			"session_id":      map[string]interface{}{"type": "string"},
			"pid":             map[string]interface{}{"type": "integer"},
			"process":         map[string]interface{}{"type": "string"},
			"mode":            map[string]interface{}{"type": "string", "enum": []string{"attach", "launch"}},
			"runtime_version": map[string]interface{}{"type": "string"},
			"stop_at_entry":   map[string]interface{}{"type": "boolean"},
			"timestamp":       map[string]interface{}{"type": "string", "format": "date-time"},
		},
		"required": []string{"type", "session_id", "pid", "process", "mode"},
	}
}

func sessionEndSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Session End",
		"description": "Emitted once when the session reaches disconnected",
		"properties": map[string]interface{}{
			"type":       map[string]interface{}{"type": "string", "const": "session_end"},
			"session_id": map[string]interface{}{"type": "string"},
			"pid":        map[string]interface{}{"type": "integer"},
			"reason": map[string]interface{}{
				"type": "string",
				"enum": []string{"detached", "terminated", "exited", "error"},
			},
			"exit_code":        map[string]interface{}{"type": "integer"},
			"duration_seconds": map[string]interface{}{"type": "integer"},
			"summary": map[string]interface{}{
				"type":        "object",
				"description": "Activity counters aggregated over the session",
				"properties": map[string]interface{}{
					"stops":                map[string]interface{}{"type": "integer"},
					"breakpoint_hits":      map[string]interface{}{"type": "integer"},
					"exceptions":           map[string]interface{}{"type": "integer"},
					"unhandled_exceptions": map[string]interface{}{"type": "integer"},
					"steps":                map[string]interface{}{"type": "integer"},
					"module_loads":         map[string]interface{}{"type": "integer"},
					"output_lines":         map[string]interface{}{"type": "integer"},
				},
			},
		},
		"required": []string{"type", "session_id", "reason", "duration_seconds"},
	}
}

func stateChangeSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "State Change",
		"description": "One lifecycle transition of the debug session",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{"type": "string", "const": "state_change"},
			"from": map[string]interface{}{
				"type": "string",
				"enum": []string{"disconnected", "running", "paused"},
			},
			"to": map[string]interface{}{
				"type": "string",
				"enum": []string{"disconnected", "running", "paused"},
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"entry", "breakpoint", "step", "exception", "pause"},
				"description": "Why the session paused; absent on other transitions",
			},
			"thread_id": map[string]interface{}{"type": "integer"},
			"location":  locationSchema(),
			"timestamp": map[string]interface{}{"type": "string", "format": "date-time"},
		},
		"required": []string{"type", "from", "to"},
	}
}

func breakpointHitSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Breakpoint Hit",
		"description": "The debuggee reached a registered breakpoint",
		"properties": map[string]interface{}{
			"type":          map[string]interface{}{"type": "string", "const": "breakpoint_hit"},
			"breakpoint_id": map[string]interface{}{"type": "integer"},
			"thread_id":     map[string]interface{}{"type": "integer"},
			"hit_count":     map[string]interface{}{"type": "integer"},
			"location":      locationSchema(),
		},
		"required": []string{"type", "thread_id"},
	}
}

func exceptionSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Exception",
		"description": "A debuggee exception, annotated with cross-session history",
		"properties": map[string]interface{}{
			"type":           map[string]interface{}{"type": "string", "const": "exception"},
			"exception_type": map[string]interface{}{"type": "string"},
			"message":        map[string]interface{}{"type": "string"},
			"first_chance":   map[string]interface{}{"type": "boolean"},
			"unhandled":      map[string]interface{}{"type": "boolean"},
			"thread_id":      map[string]interface{}{"type": "integer"},
			"location":       locationSchema(),
			"signature": map[string]interface{}{
				"type":        "string",
				"description": "Stable cross-run key: exception type plus raise site",
			},
			"known": map[string]interface{}{
				"type":        "boolean",
				"description": "True when the signature was seen in an earlier session",
			},
			"occurrences": map[string]interface{}{"type": "integer"},
			"first_seen":  map[string]interface{}{"type": "string", "format": "date-time"},
		},
		"required": []string{"type", "exception_type", "first_chance", "unhandled", "thread_id"},
	}
}

func stepCompleteSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Step Complete",
		"description": "A step request finished and the debuggee is paused",
		"properties": map[string]interface{}{
			"type":      map[string]interface{}{"type": "string", "const": "step_complete"},
			"kind":      map[string]interface{}{"type": "string", "enum": []string{"over", "into", "out"}},
			"thread_id": map[string]interface{}{"type": "integer"},
			"location":  locationSchema(),
		},
		"required": []string{"type", "thread_id"},
	}
}

func moduleSchema(tag, verb string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Module Event",
		"description": "The runtime " + verb + " a module",
		"properties": map[string]interface{}{
			"type":        map[string]interface{}{"type": "string", "const": tag},
			"path":        map[string]interface{}{"type": "string"},
			"name":        map[string]interface{}{"type": "string"},
			"has_symbols": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"type", "path", "name"},
	}
}

func processOutputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Process Output",
		"description": "One line of debuggee output",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{"type": "string", "const": "process_output"},
			"stream": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"stdout", "stderr", "debug"},
				"description": "debug marks runtime log messages rather than pipe output",
			},
			"text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"type", "stream", "text"},
	}
}

func heartbeatSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Heartbeat",
		"description": "Keepalive record indicating the stream is active",
		"properties": map[string]interface{}{
			"type":              map[string]interface{}{"type": "string", "const": "heartbeat"},
			"timestamp":         map[string]interface{}{"type": "string", "format": "date-time"},
			"uptime_seconds":    map[string]interface{}{"type": "integer"},
			"events_since_last": map[string]interface{}{"type": "integer"},
			"session_id":        map[string]interface{}{"type": "string"},
			"state": map[string]interface{}{
				"type": "string",
				"enum": []string{"disconnected", "running", "paused"},
			},
		},
		"required": []string{"type", "timestamp", "uptime_seconds", "events_since_last"},
	}
}

func cutoffSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Cutoff Reached",
		"description": "The stream hit a --max-events or --max-duration limit and is shutting down",
		"properties": map[string]interface{}{
			"type":       map[string]interface{}{"type": "string", "const": "cutoff_reached"},
			"timestamp":  map[string]interface{}{"type": "string", "format": "date-time"},
			"session_id": map[string]interface{}{"type": "string"},
			"reason": map[string]interface{}{
				"type": "string",
				"enum": []string{"max_events", "max_duration"},
			},
			"events": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"type", "reason", "events"},
	}
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Error",
		"description": "A failed operation, reported without tearing the stream down",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{"type": "string", "const": "error"},
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Error code (e.g., WRONG_STATE, NOT_FOUND)",
				"enum": []string{
					"WRONG_STATE",
					"NOT_FOUND",
					"BUSY",
					"TIMEOUT",
					"NATIVE_FAILURE",
					"EVAL_FAILED",
					"EVAL_TIMEOUT",
					"VARIABLE_UNAVAILABLE",
					"INVALID_FLAGS",
					"LIST_FAILED",
				},
			},
			"op":      map[string]interface{}{"type": "string"},
			"message": map[string]interface{}{"type": "string"},
			"hint":    map[string]interface{}{"type": "string"},
		},
		"required": []string{"type", "code", "message"},
	}
}

func tmuxSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Tmux Session Info",
		"description": "Information about the created tmux mirror session",
		"properties": map[string]interface{}{
			"type":    map[string]interface{}{"type": "string", "const": "tmux"},
			"session": map[string]interface{}{"type": "string"},
			"attach": map[string]interface{}{
				"type":        "string",
				"description": "Command to attach to the session",
			},
		},
		"required": []string{"type", "session", "attach"},
	}
}

func processSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Process",
		"description": "One candidate debuggee from mdbg ps",
		"properties": map[string]interface{}{
			"type":       map[string]interface{}{"type": "string", "const": "process"},
			"pid":        map[string]interface{}{"type": "integer"},
			"ppid":       map[string]interface{}{"type": "integer"},
			"executable": map[string]interface{}{"type": "string"},
			"runtime": map[string]interface{}{
				"type":        "string",
				"description": "Detected managed runtime version",
			},
		},
		"required": []string{"type", "pid", "executable"},
	}
}

func doctorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Doctor Report",
		"description": "Environment diagnostics and self-test results",
		"properties": map[string]interface{}{
			"type":      map[string]interface{}{"type": "string", "const": "doctor"},
			"timestamp": map[string]interface{}{"type": "string", "format": "date-time"},
			"checks": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"name":    map[string]interface{}{"type": "string"},
						"status":  map[string]interface{}{"type": "string", "enum": []string{"ok", "warning", "error"}},
						"message": map[string]interface{}{"type": "string"},
						"details": map[string]interface{}{"type": "string"},
					},
					"required": []string{"name", "status", "message"},
				},
			},
			"all_passed":  map[string]interface{}{"type": "boolean"},
			"error_count": map[string]interface{}{"type": "integer"},
			"warn_count":  map[string]interface{}{"type": "integer"},
		},
		"required": []string{"type", "checks", "all_passed"},
	}
}

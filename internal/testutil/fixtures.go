package testutil

// Sample backend responses

// HealthyJSON is a GET health response from a ready backend.
var HealthyJSON = `{"status":"healthy","timestamp":"2026-01-15T10:00:00","uptime":12.5}`

// GameWindowsJSON is a GET game-windows response with two windows.
var GameWindowsJSON = `{"windows":[{"title":"Game - main","pid":4242},{"title":"Game - sub","pid":4343}]}`

// StatusTrueJSON and StatusFalseJSON are boolean command acknowledgements.
var (
	StatusTrueJSON  = `{"status":true}`
	StatusFalseJSON = `{"status":false}`
)

// Sample persisted state

// SampleStateJSON is a state file for a run stopped at round 2 of 6.
var SampleStateJSON = `{
  "version": 1,
  "status": "stopped",
  "run_id": "run-001",
  "mode": "collab",
  "round": 2,
  "total_rounds": 6,
  "session_id": "4242",
  "completed_runs": 0,
  "updated_at": "2026-01-15T10:00:00Z"
}`

// EmptyStateJSON is a fresh idle state file.
var EmptyStateJSON = `{"version":1,"status":"idle","round":0,"total_rounds":0,"completed_runs":0,"updated_at":"2026-01-15T10:00:00Z"}`

// Sample stream payloads, as the backend renders them with Python's str().

// SampleLogPayload is a log event in Python literal form.
var SampleLogPayload = `{'type': 'log', 'data': {'message': 'round started', 'level': 'info', 'timestamp': '2026-01-15 10:00:00'}}`

// SampleVehiclePayload is a vehicle event with bare integer keys.
var SampleVehiclePayload = `{'type': 'vehicle', 'data': {'side': 'left', 'info': {1: {'card': 'GuGu', 'level': 4}, 2: {'card': 'Xiao ye', 'level': 1}}}}`

// SampleJSONLogPayload is a log event in plain JSON.
var SampleJSONLogPayload = `{"type":"log","data":{"message":"json line","level":"warn","timestamp":"2026-01-15 10:00:01"}}`

// SampleUnknownPayload is an event type the client does not know.
var SampleUnknownPayload = `{'type': 'chariot', 'data': {'speed': 3}}`

// SampleMalformedPayload cannot be decoded by any rule.
var SampleMalformedPayload = `{'type': 'log', 'data': `

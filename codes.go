package channely

// ============================================================================
// Close Codes
// ============================================================================

// Standard websocket close codes the connector reacts to.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	closeAbnormalClosure = 1006
)

// Server-defined close codes. The reserved range starts at 4000; the server
// uses these to reject or terminate a connection with a reason the client can
// classify.
const (
	CloseMissingKey       = 4000
	CloseInvalidKey       = 4001
	CloseConnectionLimit  = 4002
	CloseInvalidChannel   = 4003
	CloseHandshakeTimeout = 4008
	CloseServerTerminal   = 4999

	reservedCloseRange = 4000
)

// Error codes carried by EventError payloads.
const (
	ErrCodeInvalidKey         = "INVALID_KEY"
	ErrCodeMissingKey         = "MISSING_KEY"
	ErrCodeConnectionLimit    = "CONNECTION_LIMIT"
	ErrCodeInvalidChannel     = "INVALID_CHANNEL"
	ErrCodeHandshakeTimeout   = "HANDSHAKE_TIMEOUT"
	ErrCodeConnectionRejected = "CONNECTION_REJECTED"
	ErrCodeTransport          = "TRANSPORT_ERROR"
)

// closeMessages maps reserved close codes to their fixed human-readable
// messages, used when the server supplies no reason string.
var closeMessages = map[int]string{
	CloseMissingKey:       "Missing API key (?key=...)",
	CloseInvalidKey:       "Invalid API key",
	CloseConnectionLimit:  "Connection limit exceeded",
	CloseInvalidChannel:   "Invalid channel path",
	CloseHandshakeTimeout: "Connection handshake timed out",
	CloseServerTerminal:   "Connection closed by server",
}

// closeErrorCodes maps reserved close codes to EventError codes.
var closeErrorCodes = map[int]string{
	CloseMissingKey:       ErrCodeMissingKey,
	CloseInvalidKey:       ErrCodeInvalidKey,
	CloseConnectionLimit:  ErrCodeConnectionLimit,
	CloseInvalidChannel:   ErrCodeInvalidChannel,
	CloseHandshakeTimeout: ErrCodeHandshakeTimeout,
	CloseServerTerminal:   ErrCodeConnectionRejected,
}

// terminalCloseCodes is the set of codes after which no reconnect is
// scheduled: the channel is considered permanently closed by policy.
var terminalCloseCodes = map[int]bool{
	CloseNormalClosure:    true,
	CloseGoingAway:        true,
	CloseProtocolError:    true,
	CloseMissingKey:       true,
	CloseInvalidKey:       true,
	CloseConnectionLimit:  true,
	CloseInvalidChannel:   true,
	CloseHandshakeTimeout: true,
	CloseServerTerminal:   true,
}

// isTerminalClose reports whether a close code suppresses reconnection.
func isTerminalClose(code int) bool {
	return terminalCloseCodes[code]
}

// classifyClose resolves the error surfaced for a close. If the server sent a
// reason string, that string is the message. Otherwise the fixed table
// supplies one for reserved-range codes, falling back to a generic rejection
// message; codes below the reserved range with no reason produce no error.
func classifyClose(code int, reason string) (errCode, message string, ok bool) {
	errCode, known := closeErrorCodes[code]
	if !known {
		errCode = ErrCodeConnectionRejected
	}

	if reason != "" {
		return errCode, reason, true
	}
	if code < reservedCloseRange {
		return "", "", false
	}
	if msg, ok := closeMessages[code]; ok {
		return errCode, msg, true
	}
	return errCode, "Connection rejected by server", true
}

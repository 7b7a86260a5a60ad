// Package protocol implements the JSON control protocol spoken between the
// bridge and the external media gateway.
//
// Every message is a UTF-8 JSON object carried in one WebSocket text frame,
// discriminated by its "type" field. Audio payloads are base64 of raw 16-bit
// little-endian mono PCM at 16 kHz; one decoded frame is exactly 640 bytes.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Hard protocol limits. Violations never close the connection on their own
// (repeated oversize messages are the one exception, handled by the bridge).
const (
	// MaxMessageBytes is the maximum size of a single wire message.
	MaxMessageBytes = 1 << 20 // 1 MiB

	// MaxAudioPayloadBytes is the maximum length of the base64 audio field.
	MaxAudioPayloadBytes = 2048
)

// Message types sent by the gateway.
const (
	TypeAuthRequest   = "auth_request"
	TypeSessionStart  = "session_start"
	TypeCallStatus    = "call_status"
	TypeAudioIn       = "audio_in"
	TypeSessionEnd    = "session_end"
	TypeSessionResume = "session_resume"
	TypePing          = "ping"
)

// Message types sent by the bridge.
const (
	TypeAuthResponse = "auth_response"
	TypeInitiateCall = "initiate_call"
	TypeAudioOut     = "audio_out"
	TypeHangup       = "hangup"
	TypeFlush        = "flush"
	TypePong         = "pong"
)

// Call directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Outbound call_status values. Ringing and Answered are informational;
// the rest are terminal.
const (
	StatusRinging  = "ringing"
	StatusAnswered = "answered"
	StatusFailed   = "failed"
	StatusBusy     = "busy"
	StatusNoAnswer = "no-answer"
)

// Session end reasons.
const (
	ReasonHangupUser = "hangup-user"
	ReasonHangupBot  = "hangup-bot"
	ReasonError      = "error"
	ReasonTimeout    = "timeout"
)

// ErrProtocol marks any malformed, oversize, or invalid-identifier message.
// The offending message is dropped; the connection survives.
var ErrProtocol = errors.New("protocol: invalid message")

// ErrOversize is a protocol violation caused by a message exceeding
// [MaxMessageBytes]. Sustained oversize violations terminate the connection
// with close code 1009.
var ErrOversize = fmt.Errorf("%w: message exceeds size limit", ErrProtocol)

// callIDPattern constrains call identifiers on the wire.
var callIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidCallID reports whether id is an acceptable call identifier.
func ValidCallID(id string) bool {
	return callIDPattern.MatchString(id)
}

// CallerMetadata identifies the remote party of a call.
type CallerMetadata struct {
	TenantID          string `json:"tenantId,omitempty"`
	UserID            string `json:"userId,omitempty"`
	TeamsCallID       string `json:"teamsCallId,omitempty"`
	DisplayName       string `json:"displayName,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	PhoneNumber       string `json:"phoneNumber,omitempty"`
}

// Target addresses an outbound call: either a platform user or a phone number.
type Target struct {
	Type   string `json:"type"` // "user" or "phone"
	UserID string `json:"userId,omitempty"`
	Number string `json:"number,omitempty"`
}

// Message is the decoded envelope for gateway → bridge traffic. Fields beyond
// Type and CallID are populated per message type; unknown fields are ignored.
type Message struct {
	Type          string          `json:"type"`
	CallID        string          `json:"callId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Metadata      *CallerMetadata `json:"metadata,omitempty"`
	Direction     string          `json:"direction,omitempty"`
	Status        string          `json:"status,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Error         string          `json:"error,omitempty"`

	// Seq is the per-direction frame sequence number for audio_in. Declared
	// as int64 so values up to 2^53 (the JSON interop ceiling) survive intact.
	Seq int64 `json:"seq,omitempty"`

	// Data is the base64 audio payload for audio_in.
	Data string `json:"data,omitempty"`

	// LastReceivedSeq accompanies session_resume.
	LastReceivedSeq int64 `json:"lastReceivedSeq,omitempty"`
}

// Parse validates and decodes one wire message. Returned errors always match
// [ErrProtocol] via errors.Is; oversize input additionally matches
// [ErrOversize].
func Parse(data []byte) (*Message, error) {
	if len(data) > MaxMessageBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrOversize, len(data))
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrProtocol)
	}
	if !ValidCallID(m.CallID) {
		return nil, fmt.Errorf("%w: bad callId %q", ErrProtocol, m.CallID)
	}
	if m.Type == TypeAudioIn {
		if len(m.Data) == 0 {
			return nil, fmt.Errorf("%w: audio_in without data", ErrProtocol)
		}
		if len(m.Data) > MaxAudioPayloadBytes {
			return nil, fmt.Errorf("%w: audio payload %d bytes exceeds %d",
				ErrProtocol, len(m.Data), MaxAudioPayloadBytes)
		}
	}
	return &m, nil
}

// DecodeAudio decodes the base64 audio payload of an audio_in message.
func (m *Message) DecodeAudio() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: audio payload is not valid base64", ErrProtocol)
	}
	return pcm, nil
}

// ── Bridge → gateway encoders ─────────────────────────────────────────────────

type authResponseMessage struct {
	Type          string `json:"type"`
	CallID        string `json:"callId"`
	CorrelationID string `json:"correlationId"`
	Authorized    bool   `json:"authorized"`
	Reason        string `json:"reason,omitempty"`
	Strategy      string `json:"strategy"`
	Timestamp     int64  `json:"timestamp"`
}

type initiateCallMessage struct {
	Type    string `json:"type"`
	CallID  string `json:"callId"`
	Target  Target `json:"target"`
	Message string `json:"message,omitempty"`
}

type audioOutMessage struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
	Seq    int64  `json:"seq"`
	Data   string `json:"data"`
}

type controlMessage struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
}

// EncodeAuthResponse builds the synchronous reply to an auth_request.
func EncodeAuthResponse(callID, correlationID string, authorized bool, reason, strategy string, timestamp int64) ([]byte, error) {
	return json.Marshal(authResponseMessage{
		Type:          TypeAuthResponse,
		CallID:        callID,
		CorrelationID: correlationID,
		Authorized:    authorized,
		Reason:        reason,
		Strategy:      strategy,
		Timestamp:     timestamp,
	})
}

// EncodeInitiateCall builds the outbound call request sent to the gateway.
func EncodeInitiateCall(callID string, target Target, greeting string) ([]byte, error) {
	return json.Marshal(initiateCallMessage{
		Type:    TypeInitiateCall,
		CallID:  callID,
		Target:  target,
		Message: greeting,
	})
}

// EncodeAudioOut builds one outbound 20 ms audio frame message.
func EncodeAudioOut(callID string, seq int64, frame []byte) ([]byte, error) {
	return json.Marshal(audioOutMessage{
		Type:   TypeAudioOut,
		CallID: callID,
		Seq:    seq,
		Data:   base64.StdEncoding.EncodeToString(frame),
	})
}

// EncodeControl builds a bodyless control message (hangup, flush, pong).
func EncodeControl(msgType, callID string) ([]byte, error) {
	return json.Marshal(controlMessage{Type: msgType, CallID: callID})
}

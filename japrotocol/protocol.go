// Package japrotocol defines the wire shapes of the Janus signaling
// protocol: the fixed JSON envelope every transport speaks, independent of
// whether the bytes traveled over a WebSocket frame or an HTTP body.
//
// The protocol is a textbook tagged union: a single "janus" string field
// picks which of the optional fields are meaningful. Go has no sum type for
// this, so JaResponse carries every optional field at once (mirroring how
// the wire format itself is flat) and exposes predicates instead of a match
// expression.
package japrotocol

import (
	"fmt"

	json "github.com/segmentio/encoding/json"
)

// Discriminant values for the "janus" field.
const (
	KindAck        = "ack"
	KindSuccess    = "success"
	KindError      = "error"
	KindEvent      = "event"
	KindServerInfo = "server_info"
	KindDetached   = "detached"
	KindWebRTCUp   = "webrtcup"
	KindMedia      = "media"
	KindSlowLink   = "slowlink"
	KindHangUp     = "hangup"
	KindTrickle    = "trickle"
	KindTimeout    = "timeout"
	KindKeepAlive  = "keepalive"
)

// IDData is the payload of a session/handle creation success reply.
type IDData struct {
	ID uint64 `json:"id"`
}

// PluginData is the opaque plugin-defined payload carried in terminal
// Success and Event replies.
type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ErrorBody is the server-reported {code, reason} pair.
type ErrorBody struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Jsep is a JavaScript Session Establishment Protocol payload.
type Jsep struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	Trickle *bool  `json:"trickle,omitempty"`
}

// Establishment bundles the two establishment payload shapes a caller may
// attach to an outbound message: a JSEP blob or an opaque RTP blob. Exactly
// one of the two should be set.
type Establishment struct {
	Jsep *Jsep
	RTP  json.RawMessage
}

// JaResponse is the tagged-union envelope for every Janus reply. Only the
// fields relevant to the current Janus value are populated; the rest are
// the zero value.
type JaResponse struct {
	Janus       string          `json:"janus"`
	Transaction string          `json:"transaction,omitempty"`
	SessionID   uint64          `json:"session_id,omitempty"`
	Sender      uint64          `json:"sender,omitempty"`
	Data        *IDData         `json:"data,omitempty"`
	PluginData  *PluginData     `json:"plugindata,omitempty"`
	Jsep        *Jsep           `json:"jsep,omitempty"`
	RTP         json.RawMessage `json:"rtp,omitempty"`
	Error       *ErrorBody      `json:"error,omitempty"`

	// Raw preserves the exact bytes this value was decoded from, so callers
	// needing the server_info sub-document (or any other kind-specific
	// shape not otherwise modeled above) can re-parse without loss.
	Raw json.RawMessage `json:"-"`
}

// jaResponseAlias avoids infinite recursion in UnmarshalJSON/MarshalJSON.
type jaResponseAlias JaResponse

// UnmarshalJSON decodes the envelope and retains the original bytes in Raw.
func (r *JaResponse) UnmarshalJSON(data []byte) error {
	var alias jaResponseAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*r = JaResponse(alias)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON encodes the envelope, ignoring Raw.
func (r JaResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(jaResponseAlias(r))
}

// IsAck reports whether this reply is the synchronous message
// acknowledgement Janus sends before a plugin has processed a request.
func (r JaResponse) IsAck() bool {
	return r.Janus == KindAck
}

// IsTerminal reports whether this reply is a valid terminal result for a
// SendWaitOnRsp caller: anything other than the intermediate Ack.
func (r JaResponse) IsTerminal() bool {
	return r.Janus != KindAck
}

// IsError reports whether this reply is a Janus-reported error.
func (r JaResponse) IsError() bool {
	return r.Janus == KindError && r.Error != nil
}

// AsError converts an error-shaped reply into a JanusError, or returns nil
// if the reply does not carry an error.
func (r JaResponse) AsError() *JanusError {
	if !r.IsError() {
		return nil
	}
	return &JanusError{Code: r.Error.Code, Reason: r.Error.Reason}
}

// JanusError is the concrete Go error type for a server-reported
// {code, reason} failure.
type JanusError struct {
	Code   int
	Reason string
}

func (e *JanusError) Error() string {
	return fmt.Sprintf("janus error %d: %s", e.Code, e.Reason)
}

// ComponentInfo describes a plugin, transport, or event source listed in a
// ServerInfoRsp sub-map. Version is left untyped because Janus core and
// community plugins disagree on whether it is reported as a number or a
// dotted string.
type ComponentInfo struct {
	Name    string      `json:"name,omitempty"`
	Author  string      `json:"author,omitempty"`
	Version interface{} `json:"version,omitempty"`
}

// ServerInfoRsp is the decoded body of a `server_info` reply. Its fields
// ride alongside "janus" at the top level of the wire object rather than
// nested under a dedicated key, so it is parsed separately from JaResponse
// via ParseServerInfo instead of being embedded in it.
type ServerInfoRsp struct {
	Name          string                   `json:"name"`
	Version       int                      `json:"version"`
	VersionString string                   `json:"version_string"`
	Author        string                   `json:"author"`
	CommitHash    string                   `json:"commit-hash"`
	CompileTime   string                   `json:"compile-time"`
	Plugins       map[string]ComponentInfo `json:"plugins,omitempty"`
	Transports    map[string]ComponentInfo `json:"transports,omitempty"`
	Events        map[string]ComponentInfo `json:"events,omitempty"`
}

// ParseServerInfo re-decodes a JaResponse known to carry Janus ==
// KindServerInfo into its full ServerInfoRsp shape.
func ParseServerInfo(r JaResponse) (*ServerInfoRsp, error) {
	if r.Janus != KindServerInfo {
		return nil, fmt.Errorf("japrotocol: response is %q, not %q", r.Janus, KindServerInfo)
	}
	var info ServerInfoRsp
	if err := json.Unmarshal(r.Raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// MergeEstablishment merges an establishment payload into a request body
// map under the "jsep" or "rtp" key, matching the wire contract of §4.G.
func MergeEstablishment(request map[string]interface{}, est *Establishment) error {
	if est == nil {
		return nil
	}
	switch {
	case est.Jsep != nil:
		b, err := json.Marshal(est.Jsep)
		if err != nil {
			return err
		}
		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		request["jsep"] = v
	case len(est.RTP) > 0:
		var v interface{}
		if err := json.Unmarshal(est.RTP, &v); err != nil {
			return err
		}
		request["rtp"] = v
	}
	return nil
}

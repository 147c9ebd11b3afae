// Package serverproto implements the fixed request/response framing of the
// key-distribution-server wire protocol (spec §4.6, §6), generalizing the
// teacher's internal/relay "Envelope" idiom (a typed struct with explicit
// (un)marshal methods) from JSON-over-HTTP to the binary layout spec §6
// pins: `version | algo_id | type | user_id_len | user_id | payload` for
// requests, `version | server_info | type | payload` for responses.
package serverproto

import (
	"encoding/binary"
	"fmt"

	"limepq/internal/domain"
)

// ProtocolVersion must never be renumbered (spec §6).
const ProtocolVersion byte = 1

// MessageType enumerates the recognised request/response types; numbering
// is preserved for cross-version compatibility (spec §4.6).
type MessageType byte

const (
	TypeRegisterUser  MessageType = 1
	TypeDeleteUser    MessageType = 2
	TypePostSPk       MessageType = 3
	TypePostOPks      MessageType = 4
	TypeGetPeerBundle MessageType = 5
	TypeGetSelfOPks   MessageType = 6
	TypeError         MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case TypeRegisterUser:
		return "registerUser"
	case TypeDeleteUser:
		return "deleteUser"
	case TypePostSPk:
		return "postSPk"
	case TypePostOPks:
		return "postOPks"
	case TypeGetPeerBundle:
		return "getPeerBundle"
	case TypeGetSelfOPks:
		return "getSelfOPks"
	case TypeError:
		return "error"
	default:
		return fmt.Sprintf("messageType(%d)", byte(t))
	}
}

// Request is one outbound call to the key-distribution server.
type Request struct {
	Algo    domain.AlgoID
	Type    MessageType
	UserID  string
	Payload []byte
}

// Encode lays out `version | algo_id | type | user_id_len(BE16) | user_id | payload`.
func (r Request) Encode() []byte {
	out := []byte{ProtocolVersion, byte(r.Algo), byte(r.Type)}
	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(r.UserID)))
	out = append(out, idLen[:]...)
	out = append(out, r.UserID...)
	return append(out, r.Payload...)
}

// DecodeRequest is Request.Encode's inverse, used by test handlers behind
// the in-memory fake transport and by any test server.
func DecodeRequest(buf []byte) (Request, error) {
	const op = "serverproto.DecodeRequest"
	if len(buf) < 5 {
		return Request{}, fail(op, "truncated request header")
	}
	if buf[0] != ProtocolVersion {
		return Request{}, fail(op, fmt.Sprintf("unsupported protocol version %d", buf[0]))
	}
	algo := domain.AlgoID(buf[1])
	typ := MessageType(buf[2])
	idLen := binary.BigEndian.Uint16(buf[3:5])
	buf = buf[5:]
	if uint16(len(buf)) < idLen {
		return Request{}, fail(op, "truncated user id")
	}
	userID := string(buf[:idLen])
	payload := buf[idLen:]
	return Request{Algo: algo, Type: typ, UserID: userID, Payload: payload}, nil
}

// Response is one server reply.
type Response struct {
	ServerInfo []byte
	Type       MessageType
	Payload    []byte
}

// Encode lays out `version | server_info_len(BE16) | server_info | type | payload`.
func (r Response) Encode() []byte {
	out := []byte{ProtocolVersion}
	var infoLen [2]byte
	binary.BigEndian.PutUint16(infoLen[:], uint16(len(r.ServerInfo)))
	out = append(out, infoLen[:]...)
	out = append(out, r.ServerInfo...)
	out = append(out, byte(r.Type))
	return append(out, r.Payload...)
}

// DecodeResponse is Response.Encode's inverse.
func DecodeResponse(buf []byte) (Response, error) {
	const op = "serverproto.DecodeResponse"
	if len(buf) < 3 {
		return Response{}, fail(op, "truncated response header")
	}
	if buf[0] != ProtocolVersion {
		return Response{}, fail(op, fmt.Sprintf("unsupported protocol version %d", buf[0]))
	}
	infoLen := binary.BigEndian.Uint16(buf[1:3])
	buf = buf[3:]
	if uint16(len(buf)) < infoLen {
		return Response{}, fail(op, "truncated server info")
	}
	info := buf[:infoLen]
	buf = buf[infoLen:]
	if len(buf) < 1 {
		return Response{}, fail(op, "missing type byte")
	}
	return Response{ServerInfo: info, Type: MessageType(buf[0]), Payload: buf[1:]}, nil
}

// ErrorPayload is the body of a TypeError response (spec §4.6 "An error
// response carries an error code and human-readable detail").
type ErrorPayload struct {
	Code   int
	Detail string
}

func (e ErrorPayload) Encode() []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(e.Code))
	return append(out, e.Detail...)
}

func DecodeErrorPayload(buf []byte) (ErrorPayload, error) {
	if len(buf) < 4 {
		return ErrorPayload{}, fail("serverproto.DecodeErrorPayload", "truncated error payload")
	}
	return ErrorPayload{Code: int(binary.BigEndian.Uint32(buf[:4])), Detail: string(buf[4:])}, nil
}

// ToError maps a server-surfaced error code/detail to the engine's error
// kind (spec §7 "ServerFail(code, detail)").
func (e ErrorPayload) ToError(op string) error {
	return domain.NewServerFail(op, e.Code, e.Detail)
}

func fail(op, detail string) error {
	return domain.NewError(domain.KindSerializationFail, op, detail, nil)
}

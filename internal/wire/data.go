package wire

import (
	"encoding/binary"
	"encoding/json"
)

// RequestKind identifies a data-plane request.
type RequestKind uint8

const (
	RequestAuth RequestKind = iota + 1
	RequestList
	RequestDownload
	RequestAck
	RequestQuit
)

func (k RequestKind) String() string {
	switch k {
	case RequestAuth:
		return "auth"
	case RequestList:
		return "list"
	case RequestDownload:
		return "download"
	case RequestAck:
		return "ack"
	case RequestQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Request is a client-to-daemon data-plane message. Only the fields of its
// Kind are meaningful.
type Request struct {
	Kind RequestKind

	// Auth. Nil means the client sent no password.
	Password *string

	// Download
	Name   string
	Offset uint64

	// Ack
	Index uint64
}

// AuthRequest builds an Auth request; password may be nil.
func AuthRequest(password *string) Request {
	return Request{Kind: RequestAuth, Password: password}
}

// ListRequest builds a List request.
func ListRequest() Request { return Request{Kind: RequestList} }

// DownloadRequest builds a Download request.
func DownloadRequest(name string, offset uint64) Request {
	return Request{Kind: RequestDownload, Name: name, Offset: offset}
}

// AckRequest builds an Ack for chunk index.
func AckRequest(index uint64) Request { return Request{Kind: RequestAck, Index: index} }

// QuitRequest builds a Quit request.
func QuitRequest() Request { return Request{Kind: RequestQuit} }

type authBody struct {
	Password *string `json:"password"`
}

type downloadBody struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Request) MarshalBinary() ([]byte, error) {
	switch r.Kind {
	case RequestAuth:
		return appendJSON(byte(r.Kind), authBody{Password: r.Password})
	case RequestDownload:
		return appendJSON(byte(r.Kind), downloadBody{Name: r.Name, Offset: r.Offset})
	case RequestAck:
		return binary.BigEndian.AppendUint64([]byte{byte(r.Kind)}, r.Index), nil
	case RequestList, RequestQuit:
		return []byte{byte(r.Kind)}, nil
	default:
		return nil, protocolErrorf("unknown request kind %d", r.Kind)
	}
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Request) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return protocolErrorf("empty request")
	}
	kind, body := RequestKind(b[0]), b[1:]
	*r = Request{Kind: kind}

	switch kind {
	case RequestAuth:
		var v authBody
		if err := decodeJSON(body, &v); err != nil {
			return err
		}
		r.Password = v.Password
	case RequestDownload:
		var v downloadBody
		if err := decodeJSON(body, &v); err != nil {
			return err
		}
		r.Name, r.Offset = v.Name, v.Offset
	case RequestAck:
		if len(body) != 8 {
			return protocolErrorf("ack body is %d bytes, want 8", len(body))
		}
		r.Index = binary.BigEndian.Uint64(body)
	case RequestList, RequestQuit:
		if len(body) != 0 {
			return protocolErrorf("%s request carries %d unexpected bytes", kind, len(body))
		}
	default:
		return protocolErrorf("unknown request kind %d", kind)
	}
	return nil
}

// ResponseKind identifies a data-plane response.
type ResponseKind uint8

const (
	ResponseAuthOk ResponseKind = iota + 1
	ResponseAuthErr
	ResponseList
	ResponseFileInfo
	ResponseChunk
	ResponseDone
	ResponseError
	ResponseBye
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseAuthOk:
		return "auth_ok"
	case ResponseAuthErr:
		return "auth_err"
	case ResponseList:
		return "list"
	case ResponseFileInfo:
		return "file_info"
	case ResponseChunk:
		return "chunk"
	case ResponseDone:
		return "done"
	case ResponseError:
		return "error"
	case ResponseBye:
		return "bye"
	default:
		return "unknown"
	}
}

// FileInfo describes a file about to be streamed. Hash covers the whole
// file regardless of the requested offset.
type FileInfo struct {
	Name      string `json:"name"`
	Size      uint64 `json:"size"`
	Hash      string `json:"hash"`
	ChunkSize uint64 `json:"chunk_size"`
}

// Response is a daemon-to-client data-plane message.
type Response struct {
	Kind ResponseKind

	Names   []string // List
	Info    FileInfo // FileInfo
	Index   uint64   // Chunk
	Data    []byte   // Chunk
	Message string   // Error
}

// ListResponse builds a List response.
func ListResponse(names []string) Response {
	if names == nil {
		names = []string{}
	}
	return Response{Kind: ResponseList, Names: names}
}

// FileInfoResponse builds a FileInfo response.
func FileInfoResponse(info FileInfo) Response {
	return Response{Kind: ResponseFileInfo, Info: info}
}

// ChunkResponse builds a Chunk response.
func ChunkResponse(index uint64, data []byte) Response {
	return Response{Kind: ResponseChunk, Index: index, Data: data}
}

// ErrorResponse builds an Error response.
func ErrorResponse(msg string) Response {
	return Response{Kind: ResponseError, Message: msg}
}

// Simple returns a body-less response (AuthOk, AuthErr, Done, Bye).
func Simple(kind ResponseKind) Response { return Response{Kind: kind} }

type listBody struct {
	Names []string `json:"names"`
}

type errorBody struct {
	Message string `json:"message"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Response) MarshalBinary() ([]byte, error) {
	switch r.Kind {
	case ResponseList:
		return appendJSON(byte(r.Kind), listBody{Names: r.Names})
	case ResponseFileInfo:
		return appendJSON(byte(r.Kind), r.Info)
	case ResponseError:
		return appendJSON(byte(r.Kind), errorBody{Message: r.Message})
	case ResponseChunk:
		b := make([]byte, 0, 9+len(r.Data))
		b = append(b, byte(r.Kind))
		b = binary.BigEndian.AppendUint64(b, r.Index)
		return append(b, r.Data...), nil
	case ResponseAuthOk, ResponseAuthErr, ResponseDone, ResponseBye:
		return []byte{byte(r.Kind)}, nil
	default:
		return nil, protocolErrorf("unknown response kind %d", r.Kind)
	}
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Chunk data aliases b.
func (r *Response) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return protocolErrorf("empty response")
	}
	kind, body := ResponseKind(b[0]), b[1:]
	*r = Response{Kind: kind}

	switch kind {
	case ResponseList:
		var v listBody
		if err := decodeJSON(body, &v); err != nil {
			return err
		}
		r.Names = v.Names
	case ResponseFileInfo:
		if err := decodeJSON(body, &r.Info); err != nil {
			return err
		}
	case ResponseError:
		var v errorBody
		if err := decodeJSON(body, &v); err != nil {
			return err
		}
		r.Message = v.Message
	case ResponseChunk:
		if len(body) < 8 {
			return protocolErrorf("chunk body is %d bytes", len(body))
		}
		r.Index = binary.BigEndian.Uint64(body)
		r.Data = body[8:]
	case ResponseAuthOk, ResponseAuthErr, ResponseDone, ResponseBye:
		if len(body) != 0 {
			return protocolErrorf("%s response carries %d unexpected bytes", kind, len(body))
		}
	default:
		return protocolErrorf("unknown response kind %d", kind)
	}
	return nil
}

func appendJSON(kind byte, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return append([]byte{kind}, data...), nil
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return protocolErrorf("%v", err)
	}
	return nil
}

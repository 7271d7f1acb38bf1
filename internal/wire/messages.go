package wire

import "fmt"

// BackendMessage is the decoded form of one backend message. Concrete
// types below are the closed set this protocol version defines;
// connsm type-switches on it and should treat an unhandled case
// as a protocol violation, never as a silently ignored default.
type BackendMessage interface {
	isBackendMessage()
}

type AuthenticationOK struct{}
type AuthenticationCleartext struct{}
type AuthenticationMD5 struct{ Salt [4]byte }
type AuthenticationSASL struct{ Mechanisms []string }
type AuthenticationSASLContinue struct{ Data []byte }
type AuthenticationSASLFinal struct{ Data []byte }

type BackendKeyData struct {
	PID       int32
	SecretKey int32
}

type BindComplete struct{}
type CloseComplete struct{}

type CommandComplete struct{ Tag string }

// DataRow carries one row's worth of column values, in wire order.
// A nil entry is SQL NULL; a non-nil empty slice is a zero-length value.
type DataRow struct{ Values [][]byte }

type EmptyQueryResponse struct{}

// ErrorResponse/NoticeResponse share the field-tag format; the only
// difference is the message type byte they arrive under.
type ErrorResponse struct{ Fields map[byte]string }
type NoticeResponse struct{ Fields map[byte]string }

type NoData struct{}
type PortalSuspended struct{}

type NotificationResponse struct {
	PID     int32
	Channel string
	Payload string
}

type ParameterDescription struct{ Types []uint32 }
type ParameterStatus struct {
	Name  string
	Value string
}
type ParseComplete struct{}

type ReadyForQuery struct{ TxStatus byte }

type FieldDescription struct {
	Name         string
	TableOID     uint32
	ColumnAttr   int16
	DataTypeOID  uint32
	DataTypeSize int16
	TypeModifier int32
	Format       int16
}

type RowDescription struct{ Fields []FieldDescription }

func (AuthenticationOK) isBackendMessage()           {}
func (AuthenticationCleartext) isBackendMessage()    {}
func (AuthenticationMD5) isBackendMessage()          {}
func (AuthenticationSASL) isBackendMessage()         {}
func (AuthenticationSASLContinue) isBackendMessage() {}
func (AuthenticationSASLFinal) isBackendMessage()    {}
func (BackendKeyData) isBackendMessage()             {}
func (BindComplete) isBackendMessage()               {}
func (CloseComplete) isBackendMessage()              {}
func (CommandComplete) isBackendMessage()            {}
func (DataRow) isBackendMessage()                    {}
func (EmptyQueryResponse) isBackendMessage()          {}
func (ErrorResponse) isBackendMessage()              {}
func (NoticeResponse) isBackendMessage()             {}
func (NoData) isBackendMessage()                     {}
func (PortalSuspended) isBackendMessage()            {}
func (NotificationResponse) isBackendMessage()       {}
func (ParameterDescription) isBackendMessage()       {}
func (ParameterStatus) isBackendMessage()            {}
func (ParseComplete) isBackendMessage()              {}
func (ReadyForQuery) isBackendMessage()              {}
func (RowDescription) isBackendMessage()             {}

// DecodeBackend turns a raw (type, payload) pair, as read by
// ReadMessage, into a typed BackendMessage.
func DecodeBackend(msgType byte, payload []byte) (BackendMessage, error) {
	switch msgType {
	case MsgAuthentication:
		return decodeAuthentication(payload)
	case MsgBackendKeyData:
		b := WrapBuffer(payload)
		pid, _ := b.ReadInt32()
		secret, _ := b.ReadInt32()
		return BackendKeyData{PID: pid, SecretKey: secret}, nil
	case MsgBindComplete:
		return BindComplete{}, nil
	case MsgCloseComplete:
		return CloseComplete{}, nil
	case MsgCommandComplete:
		b := WrapBuffer(payload)
		tag, err := b.ReadString()
		if err != nil {
			return nil, fmt.Errorf("decode CommandComplete: %w", err)
		}
		return CommandComplete{Tag: tag}, nil
	case MsgDataRow:
		return decodeDataRow(payload)
	case MsgEmptyQueryResponse:
		return EmptyQueryResponse{}, nil
	case MsgErrorResponse:
		fields, err := decodeFields(payload)
		if err != nil {
			return nil, fmt.Errorf("decode ErrorResponse: %w", err)
		}
		return ErrorResponse{Fields: fields}, nil
	case MsgNoticeResponse:
		fields, err := decodeFields(payload)
		if err != nil {
			return nil, fmt.Errorf("decode NoticeResponse: %w", err)
		}
		return NoticeResponse{Fields: fields}, nil
	case MsgNoData:
		return NoData{}, nil
	case MsgNotificationResponse:
		return decodeNotification(payload)
	case MsgParameterDescription:
		return decodeParameterDescription(payload)
	case MsgParameterStatus:
		b := WrapBuffer(payload)
		name, err := b.ReadString()
		if err != nil {
			return nil, fmt.Errorf("decode ParameterStatus: %w", err)
		}
		value, err := b.ReadString()
		if err != nil {
			return nil, fmt.Errorf("decode ParameterStatus: %w", err)
		}
		return ParameterStatus{Name: name, Value: value}, nil
	case MsgParseComplete:
		return ParseComplete{}, nil
	case MsgPortalSuspended:
		return PortalSuspended{}, nil
	case MsgReadyForQuery:
		if len(payload) != 1 {
			return nil, fmt.Errorf("%w: ReadyForQuery length %d", ErrInvalidMessage, len(payload))
		}
		return ReadyForQuery{TxStatus: payload[0]}, nil
	case MsgRowDescription:
		return decodeRowDescription(payload)
	default:
		return nil, fmt.Errorf("%w: unknown backend message type %q", ErrInvalidMessage, msgType)
	}
}

func decodeAuthentication(payload []byte) (BackendMessage, error) {
	b := WrapBuffer(payload)
	kind, err := b.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("decode Authentication: %w", err)
	}
	switch kind {
	case AuthOK:
		return AuthenticationOK{}, nil
	case AuthCleartextPassword:
		return AuthenticationCleartext{}, nil
	case AuthMD5Password:
		salt, err := b.ReadBytes(4)
		if err != nil {
			return nil, fmt.Errorf("decode AuthenticationMD5Password: %w", err)
		}
		var s [4]byte
		copy(s[:], salt)
		return AuthenticationMD5{Salt: s}, nil
	case AuthSASL:
		var mechs []string
		for {
			m, err := b.ReadString()
			if err != nil || m == "" {
				break
			}
			mechs = append(mechs, m)
		}
		return AuthenticationSASL{Mechanisms: mechs}, nil
	case AuthSASLContinue:
		return AuthenticationSASLContinue{Data: b.ReadRemainder()}, nil
	case AuthSASLFinal:
		return AuthenticationSASLFinal{Data: b.ReadRemainder()}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported authentication method %d", ErrInvalidMessage, kind)
	}
}

func decodeDataRow(payload []byte) (BackendMessage, error) {
	b := WrapBuffer(payload)
	n, err := b.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("decode DataRow: %w", err)
	}
	values := make([][]byte, n)
	for i := range values {
		v, err := b.ReadCountedBytes()
		if err != nil {
			return nil, fmt.Errorf("decode DataRow column %d: %w", i, err)
		}
		values[i] = v
	}
	return DataRow{Values: values}, nil
}

func decodeFields(payload []byte) (map[byte]string, error) {
	b := WrapBuffer(payload)
	fields := make(map[byte]string)
	for {
		tag, err := b.ReadByte()
		if err != nil {
			return nil, err
		}
		if tag == 0 {
			break
		}
		value, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		fields[tag] = value
	}
	return fields, nil
}

func decodeNotification(payload []byte) (BackendMessage, error) {
	b := WrapBuffer(payload)
	pid, err := b.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("decode NotificationResponse: %w", err)
	}
	channel, err := b.ReadString()
	if err != nil {
		return nil, fmt.Errorf("decode NotificationResponse: %w", err)
	}
	payloadStr, err := b.ReadString()
	if err != nil {
		return nil, fmt.Errorf("decode NotificationResponse: %w", err)
	}
	return NotificationResponse{PID: pid, Channel: channel, Payload: payloadStr}, nil
}

func decodeParameterDescription(payload []byte) (BackendMessage, error) {
	b := WrapBuffer(payload)
	n, err := b.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("decode ParameterDescription: %w", err)
	}
	types := make([]uint32, n)
	for i := range types {
		t, err := b.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("decode ParameterDescription type %d: %w", i, err)
		}
		types[i] = t
	}
	return ParameterDescription{Types: types}, nil
}

func decodeRowDescription(payload []byte) (BackendMessage, error) {
	b := WrapBuffer(payload)
	n, err := b.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("decode RowDescription: %w", err)
	}
	fields := make([]FieldDescription, n)
	for i := range fields {
		name, err := b.ReadString()
		if err != nil {
			return nil, fmt.Errorf("decode RowDescription field %d: %w", i, err)
		}
		tableOID, _ := b.ReadUint32()
		attr, _ := b.ReadInt16()
		typeOID, _ := b.ReadUint32()
		typeSize, _ := b.ReadInt16()
		typeMod, err := b.ReadInt32()
		if err != nil {
			return nil, fmt.Errorf("decode RowDescription field %d: %w", i, err)
		}
		format, err := b.ReadInt16()
		if err != nil {
			return nil, fmt.Errorf("decode RowDescription field %d: %w", i, err)
		}
		fields[i] = FieldDescription{
			Name:         name,
			TableOID:     tableOID,
			ColumnAttr:   attr,
			DataTypeOID:  typeOID,
			DataTypeSize: typeSize,
			TypeModifier: typeMod,
			Format:       format,
		}
	}
	return RowDescription{Fields: fields}, nil
}

// Package pgtype holds the value codecs that sit on top of the core
// wire-protocol state machines: converting Go values into the binary
// BindParameter payloads Bind always sends (§6 "parameters are always
// sent in binary format"), and converting binary column values back
// out. The codec registry a production driver would need — one codec
// per OID, dispatched off RowDescription — is an external collaborator
// the core state machines never reference; this package ships exactly
// one concrete instance of it (uuid.UUID, grounded on google/uuid,
// already a teacher dependency) plus the handful of scalar codecs that
// make the cmd/pgflow CLI demo usable without depending on a value type
// none of the example repos used.
package pgtype

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/riftdata/pgflow/internal/wire"
)

// Well-known OIDs from PostgreSQL's pg_type catalog, limited to the
// types this package can encode or decode.
const (
	OIDBool   uint32 = 16
	OIDBytea  uint32 = 17
	OIDInt8   uint32 = 20
	OIDInt2   uint32 = 21
	OIDInt4   uint32 = 23
	OIDText   uint32 = 25
	OIDFloat4 uint32 = 700
	OIDFloat8 uint32 = 701
	OIDUnknown uint32 = 705
	OIDVarchar uint32 = 1043
	OIDUUID    uint32 = 2950
)

// Null is the BindParameter value for SQL NULL.
func Null() wire.BindParameter { return wire.BindParameter{Value: nil} }

func EncodeText(s string) wire.BindParameter {
	return wire.BindParameter{Value: []byte(s)}
}

func EncodeBytes(b []byte) wire.BindParameter {
	return wire.BindParameter{Value: b}
}

func EncodeBool(v bool) wire.BindParameter {
	if v {
		return wire.BindParameter{Value: []byte{1}}
	}
	return wire.BindParameter{Value: []byte{0}}
}

func EncodeInt16(v int16) wire.BindParameter {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(v))
	return wire.BindParameter{Value: buf}
}

func EncodeInt32(v int32) wire.BindParameter {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(v))
	return wire.BindParameter{Value: buf}
}

func EncodeInt64(v int64) wire.BindParameter {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return wire.BindParameter{Value: buf}
}

func EncodeFloat32(v float32) wire.BindParameter {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, math.Float32bits(v))
	return wire.BindParameter{Value: buf}
}

func EncodeFloat64(v float64) wire.BindParameter {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return wire.BindParameter{Value: buf}
}

// EncodeUUID encodes a uuid.UUID to its 16-byte binary wire form.
func EncodeUUID(u uuid.UUID) wire.BindParameter {
	raw := make([]byte, 16)
	copy(raw, u[:])
	return wire.BindParameter{Value: raw}
}

// Encode dispatches on v's Go type. It exists to let cmd/pgflow accept
// plain Go values on a query's command line without forcing every
// caller through the typed Encode* functions above.
func Encode(v any) (wire.BindParameter, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case string:
		return EncodeText(t), nil
	case []byte:
		return EncodeBytes(t), nil
	case bool:
		return EncodeBool(t), nil
	case int16:
		return EncodeInt16(t), nil
	case int32:
		return EncodeInt32(t), nil
	case int64:
		return EncodeInt64(t), nil
	case int:
		return EncodeInt64(int64(t)), nil
	case float32:
		return EncodeFloat32(t), nil
	case float64:
		return EncodeFloat64(t), nil
	case uuid.UUID:
		return EncodeUUID(t), nil
	default:
		return wire.BindParameter{}, fmt.Errorf("pgtype: no codec for Go type %T", v)
	}
}

// DecodeUUID reads a 16-byte binary column value back into a uuid.UUID.
func DecodeUUID(raw []byte) (uuid.UUID, error) {
	if len(raw) != 16 {
		return uuid.UUID{}, fmt.Errorf("pgtype: uuid value is %d bytes, want 16", len(raw))
	}
	var u uuid.UUID
	copy(u[:], raw)
	return u, nil
}

func DecodeInt32(raw []byte) (int32, error) {
	if len(raw) != 4 {
		return 0, fmt.Errorf("pgtype: int4 value is %d bytes, want 4", len(raw))
	}
	return int32(binary.BigEndian.Uint32(raw)), nil
}

func DecodeInt64(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("pgtype: int8 value is %d bytes, want 8", len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func DecodeBool(raw []byte) (bool, error) {
	if len(raw) != 1 {
		return false, fmt.Errorf("pgtype: bool value is %d bytes, want 1", len(raw))
	}
	return raw[0] != 0, nil
}

// Display renders a raw column value as a human-readable string for
// the CLI's table/JSON output, using the field's declared OID to pick
// a decoder and falling back to the raw bytes (valid UTF-8 is shown
// as-is, since text/varchar/json/unknown all use their text bytes
// as their binary representation; anything else is hex-dumped).
func Display(field wire.FieldDescription, raw []byte) string {
	if raw == nil {
		return "NULL"
	}
	switch field.DataTypeOID {
	case OIDUUID:
		if u, err := DecodeUUID(raw); err == nil {
			return u.String()
		}
	case OIDInt4:
		if v, err := DecodeInt32(raw); err == nil {
			return fmt.Sprintf("%d", v)
		}
	case OIDInt8:
		if v, err := DecodeInt64(raw); err == nil {
			return fmt.Sprintf("%d", v)
		}
	case OIDBool:
		if v, err := DecodeBool(raw); err == nil {
			return fmt.Sprintf("%t", v)
		}
	case OIDText, OIDVarchar, OIDUnknown:
		return string(raw)
	}
	if isPrintableUTF8(raw) {
		return string(raw)
	}
	return fmt.Sprintf("\\x%x", raw)
}

func isPrintableUTF8(b []byte) bool {
	for _, r := range string(b) {
		if r == '�' {
			return false
		}
	}
	return true
}

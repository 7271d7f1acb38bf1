package wire

// This file builds frontend message payloads. Each Encode* function
// returns a ready-to-write []byte: untyped messages (Startup,
// SSLRequest, CancelRequest) include their own length prefix; typed
// messages return the payload only, for WriteMessage to frame.

// EncodeStartup builds the Startup message (length-prefixed, no type
// byte). params must already include "user"; "database" is optional.
func EncodeStartup(params map[string]string) []byte {
	buf := NewBuffer(64)
	buf.WriteInt32(0) // length placeholder
	buf.WriteInt32(ProtocolVersionNumber)
	for k, v := range params {
		buf.WriteString(k)
		buf.WriteString(v)
	}
	_ = buf.WriteByte(0)
	return finalizeLength(buf)
}

// EncodeSSLRequest builds the SSLRequest message.
func EncodeSSLRequest() []byte {
	buf := NewBuffer(8)
	buf.WriteInt32(0)
	buf.WriteInt32(SSLRequestCode)
	return finalizeLength(buf)
}

// EncodeCancelRequest builds the CancelRequest message for the
// secondary connection. pgflow builds this on request but never opens
// the secondary connection itself (see DESIGN.md: cancel is
// acknowledged, not forced).
func EncodeCancelRequest(pid, secretKey int32) []byte {
	buf := NewBuffer(16)
	buf.WriteInt32(0)
	buf.WriteInt32(CancelRequestCode)
	buf.WriteInt32(pid)
	buf.WriteInt32(secretKey)
	return finalizeLength(buf)
}

func finalizeLength(buf *Buffer) []byte {
	data := buf.Bytes()
	length := len(data)
	data[0] = byte(length >> 24)
	data[1] = byte(length >> 16)
	data[2] = byte(length >> 8)
	data[3] = byte(length)
	return data
}

// EncodePassword builds a PasswordMessage payload (used for cleartext,
// MD5, and as the carrier for a raw byte response in some auth flows).
func EncodePassword(password string) []byte {
	buf := NewBuffer(len(password) + 1)
	buf.WriteString(password)
	return buf.Bytes()
}

// EncodeSASLInitialResponse builds a SASLInitialResponse payload.
func EncodeSASLInitialResponse(mechanism string, data []byte) []byte {
	buf := NewBuffer(len(mechanism) + len(data) + 8)
	buf.WriteString(mechanism)
	buf.WriteCountedBytes(data)
	return buf.Bytes()
}

// EncodeSASLResponse builds a SASLResponse payload (no length prefix
// or mechanism name, just the raw SCRAM message).
func EncodeSASLResponse(data []byte) []byte {
	buf := NewBuffer(len(data))
	buf.WriteBytes(data)
	return buf.Bytes()
}

// EncodeParse builds a Parse message payload. An empty stmtName
// targets the unnamed statement.
func EncodeParse(stmtName, query string, paramTypes []uint32) []byte {
	buf := NewBuffer(len(query) + 16)
	buf.WriteString(stmtName)
	buf.WriteString(query)
	buf.WriteInt16(int16(len(paramTypes)))
	for _, t := range paramTypes {
		buf.WriteUint32(t)
	}
	return buf.Bytes()
}

// EncodeDescribe builds a Describe message payload for either a
// portal or a prepared statement (which is TargetPortal/TargetStatement).
func EncodeDescribe(which byte, name string) []byte {
	buf := NewBuffer(len(name) + 2)
	_ = buf.WriteByte(which)
	buf.WriteString(name)
	return buf.Bytes()
}

// EncodeClose mirrors EncodeDescribe for the Close message.
func EncodeClose(which byte, name string) []byte {
	buf := NewBuffer(len(name) + 2)
	_ = buf.WriteByte(which)
	buf.WriteString(name)
	return buf.Bytes()
}

// BindParameter is one positional parameter to a Bind message. pgflow
// always sends binary-format parameters (see §6 Bind semantics); Value
// nil encodes SQL NULL.
type BindParameter struct {
	Value []byte
}

// EncodeBind builds a Bind message payload binding portal to stmtName.
// Per §6, parameters are always sent binary and a single result-format
// code of binary covers every result column.
func EncodeBind(portal, stmtName string, params []BindParameter) []byte {
	buf := NewBuffer(len(portal) + len(stmtName) + 32)
	buf.WriteString(portal)
	buf.WriteString(stmtName)

	buf.WriteInt16(int16(len(params)))
	for range params {
		buf.WriteInt16(FormatBinary)
	}

	buf.WriteInt16(int16(len(params)))
	for _, p := range params {
		buf.WriteCountedBytes(p.Value)
	}

	buf.WriteInt16(1)
	buf.WriteInt16(FormatBinary)
	return buf.Bytes()
}

// EncodeExecute builds an Execute message payload. maxRows of 0 means
// "no limit", matching the protocol's own convention.
func EncodeExecute(portal string, maxRows int32) []byte {
	buf := NewBuffer(len(portal) + 8)
	buf.WriteString(portal)
	buf.WriteInt32(maxRows)
	return buf.Bytes()
}

// EncodeSync, EncodeFlush and EncodeTerminate all have empty payloads;
// they exist purely so callers don't have to special-case "no body"
// messages at the WriteMessage call site.
func EncodeSync() []byte      { return nil }
func EncodeFlush() []byte     { return nil }
func EncodeTerminate() []byte { return nil }

// EncodeQuery builds a simple-query message payload. The core state
// machines never use this (the simple-query protocol is a Non-goal,
// §1); it's retained so the codec's message set matches §6 exactly and
// so embedders that need a one-off command (e.g. "LISTEN") unrelated to
// the extended-query pipeline have a documented escape hatch.
func EncodeQuery(sql string) []byte {
	buf := NewBuffer(len(sql) + 1)
	buf.WriteString(sql)
	return buf.Bytes()
}

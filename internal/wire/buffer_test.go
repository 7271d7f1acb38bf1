package wire

import (
	"bytes"
	"testing"
)

func TestBufferWriteRead(t *testing.T) {
	buf := NewBuffer(64)

	_ = buf.WriteByte(42)
	buf.WriteInt16(1234)
	buf.WriteInt32(567890)
	buf.WriteString("hello")
	buf.WriteCountedBytes([]byte{1, 2, 3})
	buf.WriteCountedBytes(nil)
	buf.WriteCountedBytes([]byte{})

	buf.SetPosition(0)

	b, err := buf.ReadByte()
	if err != nil || b != 42 {
		t.Errorf("ReadByte: got %d, want 42", b)
	}

	i16, err := buf.ReadInt16()
	if err != nil || i16 != 1234 {
		t.Errorf("ReadInt16: got %d, want 1234", i16)
	}

	i32, err := buf.ReadInt32()
	if err != nil || i32 != 567890 {
		t.Errorf("ReadInt32: got %d, want 567890", i32)
	}

	s, err := buf.ReadString()
	if err != nil || s != "hello" {
		t.Errorf("ReadString: got %q, want 'hello'", s)
	}

	data, err := buf.ReadCountedBytes()
	if err != nil || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("ReadCountedBytes: got %v, want [1 2 3]", data)
	}

	null, err := buf.ReadCountedBytes()
	if err != nil || null != nil {
		t.Errorf("ReadCountedBytes NULL: got %v, want nil", null)
	}

	empty, err := buf.ReadCountedBytes()
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("ReadCountedBytes empty: got %v, want non-nil empty slice", empty)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	var out bytes.Buffer
	payload := []byte("DELETE 1\x00")
	if err := WriteMessage(&out, MsgCommandComplete, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	msgType, decoded, err := ReadMessage(&out)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != MsgCommandComplete {
		t.Errorf("msgType = %q, want %q", msgType, MsgCommandComplete)
	}

	msg, err := DecodeBackend(msgType, decoded)
	if err != nil {
		t.Fatalf("DecodeBackend: %v", err)
	}
	cc, ok := msg.(CommandComplete)
	if !ok || cc.Tag != "DELETE 1" {
		t.Errorf("CommandComplete = %#v, want Tag \"DELETE 1\"", msg)
	}
}

func TestDecodeRowDescriptionNormalizesNothingItself(t *testing.T) {
	buf := NewBuffer(64)
	buf.WriteInt16(1)
	buf.WriteString("version")
	buf.WriteUint32(0)
	buf.WriteInt16(0)
	buf.WriteUint32(25)
	buf.WriteInt16(-1)
	buf.WriteInt32(-1)
	buf.WriteInt16(FormatText)

	msg, err := DecodeBackend(MsgRowDescription, buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeBackend: %v", err)
	}
	rd := msg.(RowDescription)
	if len(rd.Fields) != 1 || rd.Fields[0].Name != "version" {
		t.Fatalf("RowDescription = %#v", rd)
	}
	// The codec decodes verbatim; format-rewriting to binary is the
	// extended-query sub-state machine's job (§4.2), not the codec's.
	if rd.Fields[0].Format != FormatText {
		t.Errorf("Format = %d, want raw FormatText from the wire", rd.Fields[0].Format)
	}
}

func TestDataRowNullVsEmpty(t *testing.T) {
	buf := NewBuffer(32)
	buf.WriteInt16(2)
	buf.WriteCountedBytes(nil)
	buf.WriteCountedBytes([]byte{})

	msg, err := DecodeBackend(MsgDataRow, buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeBackend: %v", err)
	}
	row := msg.(DataRow)
	if row.Values[0] != nil {
		t.Errorf("column 0 = %v, want nil (NULL)", row.Values[0])
	}
	if row.Values[1] == nil || len(row.Values[1]) != 0 {
		t.Errorf("column 1 = %v, want non-nil empty slice", row.Values[1])
	}
}

func TestEncodeBindAlwaysBinary(t *testing.T) {
	payload := EncodeBind("", "stmt1", []BindParameter{{Value: []byte("x")}, {Value: nil}})
	buf := WrapBuffer(payload)
	_, _ = buf.ReadString() // portal
	_, _ = buf.ReadString() // statement
	n, _ := buf.ReadInt16()
	if n != 2 {
		t.Fatalf("param format count = %d, want 2", n)
	}
	for i := 0; i < int(n); i++ {
		f, _ := buf.ReadInt16()
		if f != FormatBinary {
			t.Errorf("param format[%d] = %d, want FormatBinary", i, f)
		}
	}
}

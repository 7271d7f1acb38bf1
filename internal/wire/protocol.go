package wire

// Message type bytes. Reference: https://www.postgresql.org/docs/current/protocol-message-formats.html

// Frontend (client -> server) message types.
const (
	MsgParse    byte = 'P'
	MsgBind     byte = 'B'
	MsgDescribe byte = 'D'
	MsgExecute  byte = 'E'
	MsgClose    byte = 'C'
	MsgSync     byte = 'S'
	MsgFlush    byte = 'H'
	MsgQuery    byte = 'Q'
	MsgTerminate byte = 'X'
	MsgPassword byte = 'p'
)

// Backend (server -> client) message types.
const (
	MsgAuthentication       byte = 'R'
	MsgBackendKeyData       byte = 'K'
	MsgBindComplete         byte = '2'
	MsgCloseComplete        byte = '3'
	MsgCommandComplete      byte = 'C'
	MsgDataRow              byte = 'D'
	MsgEmptyQueryResponse    byte = 'I'
	MsgErrorResponse        byte = 'E'
	MsgNoData               byte = 'n'
	MsgNoticeResponse       byte = 'N'
	MsgNotificationResponse byte = 'A'
	MsgParameterDescription byte = 't'
	MsgParameterStatus      byte = 'S'
	MsgParseComplete        byte = '1'
	MsgPortalSuspended      byte = 's'
	MsgReadyForQuery        byte = 'Z'
	MsgRowDescription       byte = 'T'
)

// Describe/Close target discriminators (the byte following the message type).
const (
	TargetPortal    byte = 'P'
	TargetStatement byte = 'S'
)

// Authentication request subtypes, as encoded in the first int32 of an
// Authentication message.
const (
	AuthOK                = 0
	AuthKerberosV5        = 2
	AuthCleartextPassword = 3
	AuthMD5Password       = 5
	AuthSCMCredential     = 6
	AuthGSS               = 7
	AuthGSSContinue       = 8
	AuthSSPI              = 9
	AuthSASL              = 10
	AuthSASLContinue      = 11
	AuthSASLFinal         = 12
)

// Transaction status indicators carried by ReadyForQuery.
const (
	TxStatusIdle   byte = 'I'
	TxStatusInTx   byte = 'T'
	TxStatusFailed byte = 'E'
)

// Protocol and negotiation constants.
const (
	ProtocolVersionNumber = 196608 // 3.0 == (3 << 16) | 0
	SSLRequestCode        = 80877103
	GSSENCRequestCode     = 80877104
	CancelRequestCode     = 80877102
)

// SSLSupported/SSLUnsupported are the single-byte replies to an SSLRequest.
const (
	SSLSupported   byte = 'S'
	SSLUnsupported byte = 'N'
)

// ErrorResponse/NoticeResponse field type tags.
const (
	FieldSeverity         byte = 'S'
	FieldSeverityNonLocal byte = 'V'
	FieldCode             byte = 'C'
	FieldMessage          byte = 'M'
	FieldDetail           byte = 'D'
	FieldHint             byte = 'H'
	FieldPosition         byte = 'P'
	FieldInternalPosition byte = 'p'
	FieldInternalQuery    byte = 'q'
	FieldWhere            byte = 'W'
	FieldSchema           byte = 's'
	FieldTable            byte = 't'
	FieldColumn           byte = 'c'
	FieldDataType         byte = 'd'
	FieldConstraint       byte = 'n'
	FieldFile             byte = 'F'
	FieldLine             byte = 'L'
	FieldRoutine          byte = 'R'
)

// FormatText and FormatBinary are the only two column/parameter format
// codes the protocol defines. pgflow always requests FormatBinary (see
// §4.2 row-format normalization).
const (
	FormatText   int16 = 0
	FormatBinary int16 = 1
)

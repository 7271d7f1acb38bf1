package connsm

import (
	"github.com/riftdata/pgflow/internal/wire"
)

// ActionKind enumerates the Action set from §4.1: every mutation of
// the Connection SM returns exactly one Action telling the channel
// glue what to do next. This SM never performs I/O itself.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSendBytes // Action.Bytes holds a fully framed message (or concatenation) to write
	ActionSendSSLRequest
	ActionEstablishSSL
	ActionSucceedQuery // the task's querySink has already been settled with a live stream
	ActionSucceedQueryNoRows
	ActionFailQuery
	ActionForwardRows // the task's stream has already received this row
	ActionForwardStreamComplete
	ActionForwardStreamError
	ActionSucceedPrepare
	ActionFailPrepare
	ActionSucceedClose
	ActionFailClose
	ActionProvideAuthContext
	ActionFireReadyForStartup
	ActionFireReadyForQuery
	ActionCloseConnection
	ActionFireChannelInactive
	ActionRequestRead // re-enable exactly one socket read
	ActionSuppressRead
	ActionNotice   // NoticeResponse, forwarded out-of-band
	ActionNotify   // NotificationResponse, forwarded out-of-band to a NotificationSink
	ActionWait
)

// Action is the single return value of every Connection SM mutation.
// Only the fields relevant to Kind are populated; callers branch on
// Kind first. Most Succeed/Fail/Forward actions are purely
// informational for the glue (logging, stream-registry bookkeeping):
// the Connection SM itself already settled the relevant ResultSink or
// pushed into the relevant Row-Batch Stream, since both are safe to
// touch from the actor goroutine that runs this code (§9).
type Action struct {
	Kind ActionKind

	Bytes            []byte
	Task             *Task
	Cols             []wire.FieldDescription
	Tag              string
	Err              error
	Cleanup          *CleanUpContext
	TxState          byte
	NotificationChan string
	NotificationBody string
	NotificationPID  int32
}

package substate

import "fmt"

// CloseKind is the Close sub-state machine's state tag (§3 Close
// Sub-State, §4.3).
type CloseKind int

const (
	CloseInitial CloseKind = iota
	CloseSyncSent
	CloseCompleteReceived
	CloseError
)

type CloseState struct {
	Kind CloseKind
	Err  error
}

func NewCloseState() *CloseState {
	return &CloseState{Kind: CloseSyncSent}
}

type CloseAction int

const (
	CloseActionNone CloseAction = iota
	CloseActionSucceed
	CloseActionFail
)

// OnCloseComplete advances CloseSyncSent -> CloseCompleteReceived.
func (c *CloseState) OnCloseComplete() (CloseAction, error) {
	if c.Kind != CloseSyncSent {
		c.Kind = CloseError
		err := fmt.Errorf("%w: CloseComplete outside CloseSyncSent", ErrUnexpectedMessage)
		c.Err = err
		return CloseActionFail, err
	}
	c.Kind = CloseCompleteReceived
	return CloseActionSucceed, nil
}

// OnError fails the close context.
func (c *CloseState) OnError(err error) CloseAction {
	c.Kind = CloseError
	c.Err = err
	return CloseActionFail
}

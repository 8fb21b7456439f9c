package room

import "errors"

var (
	ErrRoomNotExist      = errors.New("room not exist")
	ErrRoomIDIsEmpty     = errors.New("room id is empty")
	ErrRoomCancelByUser  = errors.New("room canceled by user")
	ErrMessageNotFound   = errors.New("message not found")
	ErrValidationFailed  = errors.New("message has no content")
	ErrDisplayNameEmpty  = errors.New("display name is empty")
	ErrNotARoomMember    = errors.New("connection is not a room member")
	ErrCallAlreadyActive = errors.New("call already active")
	ErrNoActiveCall      = errors.New("no active call")
)

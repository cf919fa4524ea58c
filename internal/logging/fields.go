package logging

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldUpgrade   = "upgrade"

	// Connection
	FieldClientAddr = "client_addr"
	FieldClients    = "clients"
	FieldMsgType    = "msg_type"

	// Domain
	FieldRoomID   = "room_id"
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Persistence
	FieldStore = "store"

	// Service
	FieldService = "service"
)

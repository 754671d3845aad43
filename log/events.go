package log

// Inner log events.
const (
	EventAppBootstrapped   = "app_bootstrapped"
	EventCmdDispatched     = "cmd_dispatched"
	EventCmdRejected       = "cmd_rejected"
	EventHistoryAppended   = "history_appended"
	EventHistoryLost       = "history_lost"
	EventMirrorStarted     = "mirror_started"
	EventMirrorClosed      = "mirror_closed"
	EventMSShutdown        = "ms_shutdown"
	EventNotificationSent  = "notification_sent"
	EventPanic             = "panic"
	EventStoreInit         = "store_init"
	EventComponentStarted  = "component_started"
	EventComponentShutdown = "component_shutdown"
	EventUpdConsulStatus   = "upd_consul_status"
	EventUserSignedUp      = "user_signed_up"
	EventWSConnAdded       = "ws_conn_added"
	EventWSConnRemoved     = "ws_conn_removed"
)

package core

// Outbound event names. Inbound ones live in the signaling adapter's
// dispatch switch; these are shared because the orchestrator and the
// caption pipeline emit them too.
const (
	EvJoinError       = "join-error"
	EvWaitingApproval = "waiting-approval"
	EvRejectedToJoin  = "rejected-to-join"
	EvApprovedToJoin  = "approved-to-join"
	EvYouAreAdmin     = "you-are-admin"
	EvApproveRequest  = "approve-request"
	EvPendingUsers    = "pending-users"
	EvUsersInRoom     = "users-in-room"
	EvNewUser         = "new-user"
	EvUserLeft        = "user-left"
	EvNewProducer     = "new-producer"
	EvKicked          = "kicked"
	EvTranscriptEn    = "transcript-en"
	EvClearSubtitle   = "clear-subtitle"
	EvStopTranscript  = "stop-transcript"
	EvLogAnnouncedIP  = "log-announced-ip"
)

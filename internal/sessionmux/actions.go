package sessionmux

// Verb catalogue (spec §4.2.2). Each constant is a wire `type` discriminator.
const (
	// Agent lifecycle
	ActionCreateAgentRequest     = "create_agent_request"
	ActionResumeAgentRequest     = "resume_agent_request"
	ActionRefreshAgentRequest    = "refresh_agent_request"
	ActionInitializeAgentRequest = "initialize_agent_request"
	ActionCancelAgentRequest     = "cancel_agent_request"
	ActionDeleteAgentRequest     = "delete_agent_request"
	ActionArchiveAgentRequest    = "archive_agent_request"
	ActionSetAgentMode           = "set_agent_mode"

	// Agent streaming
	ActionSendAgentMessageRequest = "send_agent_message_request"
	ActionAgentPermissionResponse = "agent_permission_response"
	ActionWaitForFinishRequest    = "wait_for_finish_request"

	// Agent queries
	ActionFetchAgentsRequest        = "fetch_agents_request"
	ActionFetchAgentRequest         = "fetch_agent_request"
	ActionSubscribeAgentUpdates     = "subscribe_agent_updates"
	ActionUnsubscribeAgentUpdates   = "unsubscribe_agent_updates"

	// Checkout & worktree
	ActionCheckoutStatusRequest      = "checkout_status_request"
	ActionCheckoutDiffRequest        = "checkout_diff_request"
	ActionCheckoutCommitRequest      = "checkout_commit_request"
	ActionCheckoutMergeRequest       = "checkout_merge_request"
	ActionCheckoutMergeFromBase      = "checkout_merge_from_base_request"
	ActionCheckoutPushRequest        = "checkout_push_request"
	ActionCheckoutPRCreateRequest    = "checkout_pr_create_request"
	ActionCheckoutPRStatusRequest    = "checkout_pr_status_request"
	ActionPaseoWorktreeListRequest   = "paseo_worktree_list_request"
	ActionPaseoWorktreeArchiveRequest = "paseo_worktree_archive_request"

	// Filesystem & project
	ActionFileExplorerRequest      = "file_explorer_request"
	ActionFileDownloadTokenRequest = "file_download_token_request"
	ActionProjectIconRequest       = "project_icon_request"
	ActionGitRepoInfoRequest       = "git_repo_info_request"
	ActionGitDiffRequest           = "git_diff_request"
	ActionHighlightedDiffRequest   = "highlighted_diff_request"

	// Terminals
	ActionListTerminalsRequest      = "list_terminals_request"
	ActionCreateTerminalRequest     = "create_terminal_request"
	ActionSubscribeTerminalRequest  = "subscribe_terminal_request"
	ActionUnsubscribeTerminalRequest = "unsubscribe_terminal_request"
	ActionTerminalInput             = "terminal_input"
	ActionKillTerminalRequest       = "kill_terminal_request"

	// Voice (optional)
	ActionRealtimeAudioChunk         = "realtime_audio_chunk"
	ActionSetVoiceConversation       = "set_voice_conversation"
	ActionLoadVoiceConversationReq   = "load_voice_conversation_request"
	ActionListVoiceConversationsReq  = "list_voice_conversations_request"
	ActionDeleteVoiceConversationReq = "delete_voice_conversation_request"

	// Control
	ActionRestartServerRequest = "restart_server_request"
	ActionClientHeartbeat      = "client_heartbeat"
	ActionRegisterPushToken    = "register_push_token"
	ActionClearAgentAttention  = "clear_agent_attention"
	ActionListProviderModels   = "list_provider_models_request"

	// Server -> client push
	ActionUpsert = "upsert"
	ActionRemove = "remove"
)

// Error codes (spec §7).
const (
	ErrInvalidOffer         = "invalid_offer"
	ErrInvalidIdentifier    = "invalid_identifier"
	ErrAmbiguousIdentifier  = "ambiguous_identifier"
	ErrBadRequest           = "bad_request"
	ErrAgentNotFound        = "agent_not_found"
	ErrDuplicateRequestID   = "duplicate_request_id"
	ErrNotGitRepo           = "not_git_repo"
	ErrNotAllowed           = "not_allowed"
	ErrMergeConflict        = "merge_conflict"
)

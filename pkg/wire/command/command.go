package command

// Type represents the type of a message command, the first token
// of a wire line.
type Type string

// Valid protocol commands exchanged with the master node.
const (
	RequestClient Type = "REQUEST_CLIENT"
	RequestWorker Type = "REQUEST_WORKER"
	PairInfo      Type = "PAIR_INFO"
	PairAbort     Type = "PAIR_ABORT"
	Bye           Type = "BYE"
)

// Valid protocol commands served by a worker once a client is attached.
const (
	Login               Type = "LOGIN"
	CreateAccount       Type = "CREATE_ACCOUNT"
	UpdateUser          Type = "UPDATE_USER"
	ResetPassword       Type = "RESET_PASSWORD"
	AccountInfo         Type = "ACCOUNT_INFO"
	CreateGroup         Type = "CREATE_GROUP"
	DeleteGroup         Type = "DELETE_GROUP"
	JoinGroup           Type = "JOIN_GROUP"
	LeaveGroup          Type = "LEAVE_GROUP"
	ListGroups          Type = "LIST_GROUPS"
	ListGroupUsers      Type = "LIST_GROUP_USERS"
	CreatePersonalEvent Type = "CREATE_PERSONAL_EVENT"
	ListUserEvents      Type = "LIST_USER_EVENTS"
	ListMonthEvents     Type = "LIST_MONTH_EVENTS"
	SuggestUserTimes    Type = "SUGGEST_USER_TIMES"
	SuggestGroupTimes   Type = "SUGGEST_GROUP_TIMES"
	FriendRequest       Type = "FRIEND_REQUEST"
	AcceptFriend        Type = "ACCEPT_FRIEND"
	DeleteFriend        Type = "DELETE_FRIEND"
	Friends             Type = "FRIENDS"
	FriendRequests      Type = "FRIEND_REQUESTS"
	Absent              Type = "ABSENT"
	Present             Type = "PRESENT"
)

// Response commands.
const (
	OK   Type = "OK"
	Fail Type = "FAIL"
)

package worker

// State is one position in the node's connection lifecycle. Every
// serving cycle walks connect-master, wait-for-job, connect-client,
// process-job and disconnect-client, then starts over.
type State int32

// Valid lifecycle states.
const (
	StateConnectMaster State = iota
	StateWaitForJob
	StateConnectClient
	StateProcessJob
	StateDisconnectClient
	StateStopped
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateConnectMaster:
		return "connect-master"
	case StateWaitForJob:
		return "wait-for-job"
	case StateConnectClient:
		return "connect-client"
	case StateProcessJob:
		return "process-job"
	case StateDisconnectClient:
		return "disconnect-client"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

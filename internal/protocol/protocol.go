// Package protocol holds the wire types shared by the Komodo RPC client,
// the update channel and the terminal sockets.
package protocol

// Socket literals exchanged during the login handshake.
const (
	// LoggedIn is the text message the core sends once a socket login succeeds.
	LoggedIn = "LOGGED_IN"
)

// Socket and HTTP endpoint paths on the core API.
const (
	PathUpdateSocket = "/ws/update"

	PathTerminalSocket           = "/ws/terminal"
	PathContainerTerminalSocket  = "/ws/container/terminal"
	PathDeploymentTerminalSocket = "/ws/deployment/terminal"
	PathStackTerminalSocket      = "/ws/stack/terminal"

	PathExecuteTerminal   = "/terminal/execute"
	PathExecuteContainer  = "/terminal/execute/container"
	PathExecuteDeployment = "/terminal/execute/deployment"
	PathExecuteStack      = "/terminal/execute/stack"
)

// Namespace selects one of the RPC endpoints of the core API.
type Namespace string

const (
	NamespaceAuth    Namespace = "auth"
	NamespaceUser    Namespace = "user"
	NamespaceRead    Namespace = "read"
	NamespaceWrite   Namespace = "write"
	NamespaceExecute Namespace = "execute"
)

// Valid reports whether n is one of the known namespaces.
func (n Namespace) Valid() bool {
	switch n {
	case NamespaceAuth, NamespaceUser, NamespaceRead, NamespaceWrite, NamespaceExecute:
		return true
	default:
		return false
	}
}

// Request is the JSON envelope posted to every RPC namespace.
type Request struct {
	Type   string `json:"type"`
	Params any    `json:"params"`
}

// ErrorBody is the JSON error payload returned by the core on failure.
type ErrorBody struct {
	Error string   `json:"error"`
	Trace []string `json:"trace"`
}

package protocol

import "net/url"

// TerminalTarget selects where an interactive terminal or a one-shot exec
// runs. Each kind carries only the fields its endpoints need.
type TerminalTarget interface {
	// SocketPath is the websocket endpoint for interactive sessions.
	SocketPath() string
	// SocketQuery is the query string of the websocket endpoint.
	SocketQuery() url.Values
	// ExecutePath is the streaming HTTP endpoint for one-shot commands.
	ExecutePath() string
	// ExecuteBody is the JSON body posted to ExecutePath.
	ExecuteBody(command string) any

	terminalTarget()
}

// ServerTerminal is a named terminal on a server's host.
type ServerTerminal struct {
	Server   string
	Terminal string
	// Init is an optional command run when the terminal is first created.
	Init string
}

// ContainerExec is a shell exec into a container on a server.
type ContainerExec struct {
	Server    string
	Container string
	Shell     string
}

// DeploymentExec is a shell exec into a deployment's container.
type DeploymentExec struct {
	Deployment string
	Shell      string
}

// StackExec is a shell exec into one service of a stack.
type StackExec struct {
	Stack   string
	Service string
	Shell   string
}

func setIfNotEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func (ServerTerminal) terminalTarget() {}
func (ContainerExec) terminalTarget()  {}
func (DeploymentExec) terminalTarget() {}
func (StackExec) terminalTarget()      {}

func (t ServerTerminal) SocketPath() string { return PathTerminalSocket }
func (t ServerTerminal) ExecutePath() string {
	return PathExecuteTerminal
}

func (t ServerTerminal) SocketQuery() url.Values {
	q := url.Values{}
	q.Set("server", t.Server)
	q.Set("terminal", t.Terminal)
	setIfNotEmpty(q, "init", t.Init)
	return q
}

func (t ServerTerminal) ExecuteBody(command string) any {
	return struct {
		Server   string `json:"server"`
		Terminal string `json:"terminal"`
		Command  string `json:"command"`
	}{t.Server, t.Terminal, command}
}

func (t ContainerExec) SocketPath() string  { return PathContainerTerminalSocket }
func (t ContainerExec) ExecutePath() string { return PathExecuteContainer }

func (t ContainerExec) SocketQuery() url.Values {
	q := url.Values{}
	q.Set("server", t.Server)
	q.Set("container", t.Container)
	setIfNotEmpty(q, "shell", t.Shell)
	return q
}

func (t ContainerExec) ExecuteBody(command string) any {
	return struct {
		Server    string `json:"server"`
		Container string `json:"container"`
		Shell     string `json:"shell"`
		Command   string `json:"command"`
	}{t.Server, t.Container, t.Shell, command}
}

func (t DeploymentExec) SocketPath() string  { return PathDeploymentTerminalSocket }
func (t DeploymentExec) ExecutePath() string { return PathExecuteDeployment }

func (t DeploymentExec) SocketQuery() url.Values {
	q := url.Values{}
	q.Set("deployment", t.Deployment)
	setIfNotEmpty(q, "shell", t.Shell)
	return q
}

func (t DeploymentExec) ExecuteBody(command string) any {
	return struct {
		Deployment string `json:"deployment"`
		Shell      string `json:"shell"`
		Command    string `json:"command"`
	}{t.Deployment, t.Shell, command}
}

func (t StackExec) SocketPath() string  { return PathStackTerminalSocket }
func (t StackExec) ExecutePath() string { return PathExecuteStack }

func (t StackExec) SocketQuery() url.Values {
	q := url.Values{}
	q.Set("stack", t.Stack)
	q.Set("service", t.Service)
	setIfNotEmpty(q, "shell", t.Shell)
	return q
}

func (t StackExec) ExecuteBody(command string) any {
	return struct {
		Stack   string `json:"stack"`
		Service string `json:"service"`
		Shell   string `json:"shell"`
		Command string `json:"command"`
	}{t.Stack, t.Service, t.Shell, command}
}

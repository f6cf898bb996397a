package domain

// CommandRequest is one script to run on this host.
type CommandRequest struct {
	// Commands is the base64 encoded script body.
	Commands            string
	PostID              string
	InterpreterOverride string
}

// CommandResult is posted back to the callback endpoint.
type CommandResult struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

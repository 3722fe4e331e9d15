package common

// Channel name prefixes on the backend's Redis endpoint. The authenticated
// identity is appended, e.g. "push:user-42".
const (
	PushChannelPrefix    = "push:"
	CommandChannelPrefix = "cmd:"
)

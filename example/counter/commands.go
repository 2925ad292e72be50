package counter

// CreateCounter asks for a new counter.
type CreateCounter struct {
	CommandID string
	CounterID ID
	Initial   int
}

// CommandType returns the command type name.
func (CreateCounter) CommandType() string { return "CreateCounter" }

// IncreaseCounter asks to raise a counter.
type IncreaseCounter struct {
	CommandID string
	CounterID ID
	By        int
}

// CommandType returns the command type name.
func (IncreaseCounter) CommandType() string { return "IncreaseCounter" }

// DecreaseCounter asks to lower a counter.
type DecreaseCounter struct {
	CommandID string
	CounterID ID
	By        int
}

// CommandType returns the command type name.
func (DecreaseCounter) CommandType() string { return "DecreaseCounter" }

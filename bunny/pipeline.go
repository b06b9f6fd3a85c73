package bunny

// pipeline is a FIFO of pending commands with a single in-flight slot. It is
// only touched from the client's event loop.
type pipeline struct {
	queue    []*command
	inFlight *command
}

// enqueue appends cmd to the tail.
func (p *pipeline) enqueue(cmd *command) {
	p.queue = append(p.queue, cmd)
}

// enqueueFront puts cmd ahead of every waiting command.
func (p *pipeline) enqueueFront(cmd *command) {
	p.queue = append(p.queue, nil)
	copy(p.queue[1:], p.queue)
	p.queue[0] = cmd
}

// idle reports whether no command is awaiting a response.
func (p *pipeline) idle() bool {
	return p.inFlight == nil
}

// promote pops the head when the slot is free. Commands that await a
// response occupy the slot until settle or abandon.
func (p *pipeline) promote() *command {
	if p.inFlight != nil || len(p.queue) == 0 {
		return nil
	}
	cmd := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	if cmd.awaitsResponse() {
		p.inFlight = cmd
	}
	return cmd
}

// settle frees the slot and returns the command the response belongs to.
func (p *pipeline) settle() *command {
	cmd := p.inFlight
	p.inFlight = nil
	return cmd
}

// drain empties the pipeline, in-flight command first.
func (p *pipeline) drain() []*command {
	pending := make([]*command, 0, len(p.queue)+1)
	if p.inFlight != nil {
		pending = append(pending, p.inFlight)
		p.inFlight = nil
	}
	pending = append(pending, p.queue...)
	p.queue = nil
	return pending
}

// waiting returns the number of commands not yet dispatched.
func (p *pipeline) waiting() int {
	return len(p.queue)
}

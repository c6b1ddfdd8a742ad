package pipeline

import "maps"

// Context is the per-run state threaded through the stages. Every method
// returns an updated copy; a flag, once true, stays true.
type Context struct {
	status    Status
	artifacts Artifacts
}

func NewContext() Context {
	return Context{status: Status{}}
}

// Succeed marks stage successful and records its artifact via set.
func (c Context) Succeed(stage Stage, set func(*Artifacts)) Context {
	c.status = maps.Clone(c.status)
	if c.status == nil {
		c.status = Status{}
	}
	c.status[stage] = true
	return c.Record(set)
}

// Record stores an artifact without touching the stage flags.
func (c Context) Record(set func(*Artifacts)) Context {
	c.artifacts = c.artifacts.clone()
	if set != nil {
		set(&c.artifacts)
	}
	return c
}

func (c Context) Done(stage Stage) bool { return c.status[stage] }

// Status returns a snapshot with every stage present, defaulting to false.
func (c Context) Status() Status {
	out := make(Status, len(Stages))
	for _, s := range Stages {
		out[s] = c.status[s]
	}
	return out
}

func (c Context) Artifacts() Artifacts { return c.artifacts.clone() }

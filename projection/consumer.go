package projection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rakunlabs/domo/journal"
	"github.com/rakunlabs/logi"
	"github.com/worldline-go/hardloop"
)

// cronRunner is satisfied by hardloop's unexported *cronJob type (returned
// by hardloop.NewCron), so it can be stored without naming the unexported
// struct directly.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// ConsumerConfig tunes a JournalConsumer's poll loop.
type ConsumerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return c
}

// ConsumerState is a JournalConsumer's run state.
type ConsumerState int

const (
	Stopped ConsumerState = iota
	Running
	Paused
)

func (s ConsumerState) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// JournalConsumer polls a JournalReader's global cursor on an interval and
// fans each non-empty batch out to a Dispatcher, grouping entries into a
// single Projectable whose becauseOf is the batch's distinct entry types.
//
// Because hardloop's cron job does not support pausing in place, Pause
// leaves the cron runner started but has poll skip its work; Stop tears
// the runner down entirely. A stopped consumer can be started again.
type JournalConsumer struct {
	reader     journal.JournalReader
	dispatcher *Dispatcher
	config     ConsumerConfig

	mu    sync.Mutex
	state ConsumerState
	cron  cronRunner
}

// NewJournalConsumer builds a JournalConsumer over reader, dispatching
// every polled batch through dispatcher.
func NewJournalConsumer(reader journal.JournalReader, dispatcher *Dispatcher, config ConsumerConfig) *JournalConsumer {
	return &JournalConsumer{
		reader:     reader,
		dispatcher: dispatcher,
		config:     config.withDefaults(),
		state:      Stopped,
	}
}

// State reports the consumer's current run state.
func (c *JournalConsumer) State() ConsumerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsActive reports whether the consumer is Running (not Paused, not
// Stopped).
func (c *JournalConsumer) IsActive() bool {
	return c.State() == Running
}

// Start begins polling. Building and starting the hardloop cron runner is
// done once; subsequent calls after Stop build a fresh one.
func (c *JournalConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Stopped {
		return fmt.Errorf("projection: consumer already started (state=%s)", c.state)
	}

	spec := fmt.Sprintf("@every %s", c.config.PollInterval)
	cronJob, err := hardloop.NewCron(hardloop.Cron{
		Name:  "journal-consumer",
		Specs: []string{spec},
		Func:  c.poll,
	})
	if err != nil {
		return fmt.Errorf("projection: create poll cron: %w", err)
	}

	if err := cronJob.Start(ctx); err != nil {
		return fmt.Errorf("projection: start poll cron: %w", err)
	}

	c.cron = cronJob
	c.state = Running
	logi.Ctx(ctx).Info("projection: journal consumer started", "reader", c.reader.Name(), "poll_interval", c.config.PollInterval)
	return nil
}

// Pause suspends polling without tearing down the underlying cron runner.
// Legal only from Running.
func (c *JournalConsumer) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return fmt.Errorf("projection: cannot pause consumer in state %s", c.state)
	}
	c.state = Paused
	return nil
}

// Resume returns the consumer to Running. Legal only from Paused.
func (c *JournalConsumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Paused {
		return fmt.Errorf("projection: cannot resume consumer in state %s", c.state)
	}
	c.state = Running
	return nil
}

// Stop halts polling and stops the cron runner. Legal from any state; a
// later Start builds a fresh runner and resumes polling.
func (c *JournalConsumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		c.cron.Stop()
		c.cron = nil
	}
	c.state = Stopped
}

// poll is the hardloop tick function: it reads the next batch from the
// journal reader and dispatches it, never stopping the loop on a transient
// read error.
func (c *JournalConsumer) poll(ctx context.Context) error {
	if !c.IsActive() {
		return nil
	}

	entries, err := c.reader.ReadNext(ctx, c.config.BatchSize)
	if err != nil {
		logi.Ctx(ctx).Error("projection: journal consumer read failed", "reader", c.reader.Name(), "error", err)
		return nil
	}
	if len(entries) == 0 {
		return nil
	}

	last := entries[len(entries)-1]
	p := NewEntriesProjectable(c.reader.Name(), int(last.GlobalPosition), DistinctTypes(entries), entries)
	c.dispatcher.Dispatch(ctx, p)
	return nil
}

package scheduler

import "fmt"

// Config configures a Pool.
type Config struct {
	// Name labels this pool's metrics and log lines; required so that
	// multiple pools in one process don't collide on the same series.
	Name string

	// Workers is the number of worker goroutines, each owning its own
	// wsdeque. Must be at least 1; New rejects smaller values.
	Workers int

	// MinQueueCapacity is passed to wsdeque.NewWithMinCapacity for every
	// worker's deque.
	MinQueueCapacity int
}

// DefaultConfig returns a modest worker count and queue depth, suitable
// for a single process running more than one pool at once.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		Workers:          4,
		MinQueueCapacity: 32,
	}
}

func (c Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("wsdeque/scheduler: Config.Name must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("wsdeque/scheduler: Config.Workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

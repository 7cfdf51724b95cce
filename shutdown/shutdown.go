package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/vinayprograms/orderclaim/logging"
)

// ErrAlreadyShutdown indicates shutdown was already initiated.
var ErrAlreadyShutdown = errors.New("shutdown already initiated")

// Phases used by orderclaimd. Lower phases stop first.
const (
	PhaseIngress  = 10 // stop accepting requests
	PhaseDrain    = 20 // flush notifications
	PhaseBackends = 30 // close stores, brokers, exporters
)

// Func releases one component.
type Func func(ctx context.Context) error

type registration struct {
	name  string
	phase int
	fn    Func
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Coordinator runs registered handlers phase by phase. Handlers in the
// same phase run concurrently.
type Coordinator struct {
	timeout time.Duration
	log     *logging.Logger

	mu       sync.Mutex
	handlers []registration
	once     sync.Once
	done     chan struct{}
	results  []HandlerResult
	err      error
}

// NewCoordinator returns a coordinator that gives shutdown timeout to
// finish once it starts.
func NewCoordinator(timeout time.Duration, log *logging.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Coordinator{
		timeout: timeout,
		log:     log.WithComponent("shutdown"),
		done:    make(chan struct{}),
	}
}

// Register adds fn to phase.
func (c *Coordinator) Register(name string, phase int, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, fn: fn})
}

// Shutdown runs every handler once. A later call returns
// ErrAlreadyShutdown if the first has not finished, and its result
// otherwise.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	started := false
	c.once.Do(func() {
		started = true
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		c.results, c.err = c.run(ctx)
		close(c.done)
	})
	if started {
		return c.err
	}
	select {
	case <-c.done:
		return c.err
	default:
		return ErrAlreadyShutdown
	}
}

// Wait blocks until ctx ends or SIGINT or SIGTERM arrives, then shuts
// down.
func (c *Coordinator) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	c.log.Info("shutting down", map[string]interface{}{"timeout": c.timeout.String()})
	return c.Shutdown(context.WithoutCancel(ctx))
}

// Done is closed once shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Results returns per-handler outcomes after Done is closed.
func (c *Coordinator) Results() []HandlerResult {
	select {
	case <-c.done:
		return append([]HandlerResult(nil), c.results...)
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) ([]HandlerResult, error) {
	c.mu.Lock()
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].phase < handlers[j].phase })

	var (
		results []HandlerResult
		failed  []string
	)
	for start := 0; start < len(handlers); {
		end := start
		for end < len(handlers) && handlers[end].phase == handlers[start].phase {
			end++
		}
		if ctx.Err() != nil {
			for _, h := range handlers[start:] {
				failed = append(failed, h.name)
			}
			return results, fmt.Errorf("shutdown timed out before %s", strings.Join(failed, ", "))
		}

		phase := c.runPhase(ctx, handlers[start:end])
		for _, r := range phase {
			if r.Err != nil {
				failed = append(failed, r.Name)
			}
		}
		results = append(results, phase...)
		start = end
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("shutdown handlers failed: %s", strings.Join(failed, ", "))
	}
	return results, nil
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg conc.WaitGroup
	for i, h := range group {
		wg.Go(func() {
			start := time.Now()
			err := h.fn(ctx)
			results[i] = HandlerResult{Name: h.name, Phase: h.phase, Duration: time.Since(start), Err: err}

			fields := map[string]interface{}{"handler": h.name, "phase": h.phase, "duration_ms": time.Since(start).Milliseconds()}
			if err != nil {
				fields["error"] = err.Error()
				c.log.Warn("handler_failed", fields)
				return
			}
			c.log.Debug("handler_done", fields)
		})
	}
	wg.Wait()
	return results
}

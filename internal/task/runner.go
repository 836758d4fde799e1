// Package task runs simulate/train requests in process and streams their
// progress as taskdto events.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/park285/runenkrieg/internal/progress"
	"github.com/park285/runenkrieg/pkg/taskdto"
	"go.uber.org/zap"
)

var (
	ErrUnknownAction = errors.New("unknown task action")
	ErrDuplicateID   = errors.New("task id already running")
	ErrClosed        = errors.New("task runner closed")
)

// Handler does the work of one action. Its result is JSON-encoded into the result event.
type Handler func(ctx context.Context, req taskdto.Request, report progress.Reporter) (any, error)

// Emit receives every event of a task. Calls for one task are sequential.
type Emit func(taskdto.Event)

type Runner struct {
	mu       sync.Mutex
	handlers map[taskdto.Action]Handler
	running  map[string]context.CancelCauseFunc
	closed   bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		handlers: make(map[taskdto.Action]Handler),
		running:  make(map[string]context.CancelCauseFunc),
		logger:   logger,
	}
}

func (r *Runner) Handle(action taskdto.Action, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Submit starts req in the background and returns its id. A request without
// an id gets a new uuid. Rejected requests still receive one error event.
func (r *Runner) Submit(ctx context.Context, req taskdto.Request, emit Emit) string {
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	if emit == nil {
		emit = func(taskdto.Event) {}
	}
	if req.Action == taskdto.ActionCancel {
		if !r.Cancel(req.ID) {
			emit(errorEvent(req.ID, fmt.Errorf("no running task %q", req.ID), ""))
		}
		return req.ID
	}
	h, cctx, err := r.start(ctx, req)
	if err != nil {
		emit(errorEvent(req.ID, err, ""))
		return req.ID
	}
	go func() {
		defer r.wg.Done()
		r.execute(cctx, req, h, emit)
	}()
	return req.ID
}

// Run executes req on the calling goroutine and returns its terminal event.
func (r *Runner) Run(ctx context.Context, req taskdto.Request, emit Emit) taskdto.Event {
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	var terminal taskdto.Event
	capture := func(ev taskdto.Event) {
		if ev.Type.Terminal() {
			terminal = ev
		}
		if emit != nil {
			emit(ev)
		}
	}
	h, cctx, err := r.start(ctx, req)
	if err != nil {
		capture(errorEvent(req.ID, err, ""))
		return terminal
	}
	defer r.wg.Done()
	r.execute(cctx, req, h, capture)
	return terminal
}

// start registers req and counts it in wg. The caller must call wg.Done once
// execute returns.
func (r *Runner) start(ctx context.Context, req taskdto.Request) (Handler, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, ErrClosed
	}
	h, ok := r.handlers[req.Action]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if _, dup := r.running[req.ID]; dup {
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateID, req.ID)
	}
	cctx, cancel := context.WithCancelCause(ctx)
	r.running[req.ID] = cancel
	r.wg.Add(1)
	return h, cctx, nil
}

func (r *Runner) execute(ctx context.Context, req taskdto.Request, h Handler, emit Emit) {
	var (
		mu   sync.Mutex
		done bool
	)
	send := func(ev taskdto.Event) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		if ev.Type.Terminal() {
			done = true
		}
		emit(ev)
	}
	defer func() {
		r.mu.Lock()
		if cancel, ok := r.running[req.ID]; ok {
			cancel(nil)
			delete(r.running, req.ID)
		}
		r.mu.Unlock()
	}()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task_panic", zap.String("id", req.ID), zap.Any("panic", p))
			send(errorEvent(req.ID, fmt.Errorf("panic: %v", p), string(debug.Stack())))
		}
	}()

	r.logger.Info("task_started", zap.String("id", req.ID), zap.String("action", string(req.Action)))
	report := func(fraction float64, message string) {
		send(taskdto.Event{ID: req.ID, Type: taskdto.EventProgress, Progress: &taskdto.Progress{Fraction: fraction, Message: message}})
	}
	res, err := h(ctx, req, report)
	if err != nil {
		if errors.Is(err, progress.ErrCanceled) {
			r.logger.Info("task_canceled", zap.String("id", req.ID))
		} else {
			r.logger.Warn("task_failed", zap.String("id", req.ID), zap.Error(err))
		}
		send(errorEvent(req.ID, err, ""))
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		send(errorEvent(req.ID, fmt.Errorf("encode result: %w", err), ""))
		return
	}
	r.logger.Info("task_done", zap.String("id", req.ID))
	send(taskdto.Event{ID: req.ID, Type: taskdto.EventResult, Result: raw})
}

// Cancel stops the task with id. It reports whether such a task was running.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.running[id]
	r.mu.Unlock()
	if ok {
		cancel(fmt.Errorf("task %s canceled by request", id))
	}
	return ok
}

// Running lists the ids of unfinished tasks.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels every running task and waits for background tasks to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.running {
		cancel(ErrClosed)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func errorEvent(id string, err error, stack string) taskdto.Event {
	return taskdto.Event{ID: id, Type: taskdto.EventError, Error: &taskdto.Error{Message: err.Error(), Stack: stack}}
}

// DecodePayload unmarshals req.Payload into a taskdto.Payload. An empty payload is the zero value.
func DecodePayload(req taskdto.Request) (taskdto.Payload, error) {
	var p taskdto.Payload
	if len(req.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

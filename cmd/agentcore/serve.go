package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/agentcore/agentcore/config"
	"github.com/agentcore/agentcore/escalation"
	"github.com/agentcore/agentcore/ids"
	"github.com/agentcore/agentcore/ipc"
	"github.com/agentcore/agentcore/logging"
	"github.com/agentcore/agentcore/runtime"
	"github.com/agentcore/agentcore/types"
	"github.com/agentcore/agentcore/workergateway"
)

const heartbeatInterval = 15 * time.Second

// server holds the mutable state an IPC session needs beyond what
// runtime.CoreRuntime already owns: the jobID -> permitID mapping that
// lets a later cancel_job frame find the right permit to revoke.
type server struct {
	rt       *runtime.CoreRuntime
	protocol *ipc.Protocol
	logger   logging.Logger

	mu      sync.Mutex
	permits map[string]string // jobID -> permitID
}

func runServe(_ []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Component)

	rt, err := runtime.New(cfg, runtime.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("new runtime: %w", err)
	}

	transport, closeTransport, err := dialTransport(cfg.IPC)
	if err != nil {
		return fmt.Errorf("dial ipc transport: %w", err)
	}
	defer closeTransport()

	protocol := ipc.NewProtocol(transport, 30*time.Second, logger)
	srv := &server{rt: rt, protocol: protocol, logger: logger, permits: make(map[string]string)}
	srv.registerHandlers()

	rt.Escalator.OnEscalation(func(e escalation.Event) {
		_ = protocol.Escalation(e)
	})

	protocol.Start()
	rt.Start()

	stopHeartbeat := srv.startHeartbeat()
	defer stopHeartbeat()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down", nil)
	protocol.Stop()
	ctx, cancel := shutdownContext()
	defer cancel()
	return rt.Shutdown(ctx)
}

func (s *server) startHeartbeat() func() {
	ticker := time.NewTicker(heartbeatInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				_ = s.protocol.Heartbeat(time.Now().UnixMilli())
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

func (s *server) registerHandlers() {
	s.protocol.OnType("submit_job", s.handleSubmitJob)
	s.protocol.OnType("request_permit", s.handleRequestPermit)
	s.protocol.OnType("cancel_job", s.handleCancelJob)
	s.protocol.OnType("report_queue_metrics", s.handleReportQueueMetrics)
}

func decodeJob(frame ipc.Frame) (types.Job, error) {
	raw, err := json.Marshal(frame["job"])
	if err != nil {
		return types.Job{}, err
	}
	var job types.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return types.Job{}, err
	}
	return job, nil
}

func (s *server) handleSubmitJob(frame ipc.Frame) {
	requestID := frame.RequestID()
	job, err := decodeJob(frame)
	if err != nil {
		_ = s.protocol.ErrorFrame(requestID, "submit_job", err)
		return
	}
	if err := job.Validate(); err != nil {
		_ = s.protocol.ErrorFrame(requestID, "submit_job", err)
		return
	}

	_ = s.protocol.Ack(requestID)

	p, rejection := s.rt.Gate.RequestPermit(job, 0)
	if rejection != nil {
		_ = s.protocol.PermitRejected(requestID, *rejection)
		return
	}
	s.mu.Lock()
	s.permits[job.JobID] = p.PermitID
	s.mu.Unlock()

	task := workerTaskFromJob(job)
	go func() {
		defer s.rt.Gate.CompletePermit(p.PermitID)
		result, err := s.rt.Gateway.DelegateTask(task, p.PermitID, p.DeadlineAt, p.Abort().(abortSignal), workergateway.Options{})
		s.mu.Lock()
		delete(s.permits, job.JobID)
		s.mu.Unlock()
		if err != nil {
			s.rt.Escalator.RecordWorkerCrash(string(task.WorkerKind))
			_ = s.protocol.ErrorFrame("", "submit_job", err)
			return
		}
		_ = s.protocol.JobCompleted(job.JobID, result)
	}()
}

func (s *server) handleRequestPermit(frame ipc.Frame) {
	requestID := frame.RequestID()
	job, err := decodeJob(frame)
	if err != nil {
		_ = s.protocol.ErrorFrame(requestID, "request_permit", err)
		return
	}
	attemptIndex := 0
	if v, ok := frame["attemptIndex"].(float64); ok {
		attemptIndex = int(v)
	}

	p, rejection := s.rt.Gate.RequestPermit(job, attemptIndex)
	if rejection != nil {
		_ = s.protocol.PermitRejected(requestID, *rejection)
		return
	}
	_ = s.protocol.PermitGranted(requestID, p.View())
}

func (s *server) handleCancelJob(frame ipc.Frame) {
	requestID := frame.RequestID()
	jobID, _ := frame["jobId"].(string)
	reason, _ := frame["reason"].(string)

	s.mu.Lock()
	permitID, ok := s.permits[jobID]
	s.mu.Unlock()
	if ok {
		s.rt.Gate.RevokePermit(permitID, reason)
	}
	_ = s.protocol.JobCancelled(jobID, reason)
	if requestID != "" {
		_ = s.protocol.Ack(requestID)
	}
}

func (s *server) handleReportQueueMetrics(frame ipc.Frame) {
	if requestID := frame.RequestID(); requestID != "" {
		_ = s.protocol.Ack(requestID)
	}
}

// abortSignal has the method set of workergateway.AbortSignal; it is the
// type-assertion target that exposes OnFire on a permit's abort handle.
type abortSignal interface {
	OnFire(listener func(reason string)) (unsubscribe func())
	Fired() bool
}

func workerTaskFromJob(job types.Job) types.WorkerTask {
	kind, _ := job.Payload["workerKind"].(string)
	if kind == "" {
		kind = string(types.WorkerMock)
	}
	instructions, _ := job.Payload["instructions"].(string)
	model, _ := job.Payload["model"].(string)

	return types.WorkerTask{
		WorkerTaskID: ids.NewWorkerTaskID(),
		WorkerKind:   types.WorkerKind(kind),
		Instructions: instructions,
		Capabilities: []types.Capability{types.CapRead, types.CapEdit, types.CapRunCommands},
		OutputMode:   types.OutputBatch,
		Model:        model,
		Budget: types.WorkerBudget{
			DeadlineAt: time.Now().UnixMilli() + job.Limits.TimeoutMs,
		},
	}
}

func dialTransport(cfg config.IPCConfig) (*ipc.Transport, func(), error) {
	switch {
	case cfg.SocketHost != "":
		addr := fmt.Sprintf("%s:%d", cfg.SocketHost, cfg.SocketPort)
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, nil, err
		}
		return ipc.NewTransport(conn, conn), func() { conn.Close() }, nil
	case cfg.SocketPath != "":
		conn, err := net.Dial("unix", cfg.SocketPath)
		if err != nil {
			return nil, nil, err
		}
		return ipc.NewTransport(conn, conn), func() { conn.Close() }, nil
	default:
		return ipc.NewTransport(os.Stdin, os.Stdout), func() {}, nil
	}
}

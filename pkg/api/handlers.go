package api

import (
	"bufio"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"statehouse/pkg/api/router"
	"statehouse/pkg/engine"
	"statehouse/pkg/errdef"
	"statehouse/pkg/logger"
	"statehouse/pkg/telemetry"
	"statehouse/pkg/types"
)

// BuildInfo carries the daemon's build metadata for the version endpoint.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server exposes the engine's operations over fasthttp.
type Server struct {
	eng     *engine.Engine
	build   BuildInfo
	limiter *limiterPool
}

func NewServer(eng *engine.Engine, build BuildInfo, rps float64, burst int) *Server {
	return &Server{eng: eng, build: build, limiter: newLimiterPool(rps, burst)}
}

func (s *Server) health(ctx *fasthttp.RequestCtx) {
	if err := s.eng.Health(); err != nil {
		router.WriteEngineError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]string{"status": "ok"})
}

func (s *Server) version(ctx *fasthttp.RequestCtx) {
	_ = router.WriteJSON(ctx, s.build)
}

type beginRequest struct {
	TimeoutMs int64 `json:"timeout_ms"`
}

func (s *Server) beginTxn(ctx *fasthttp.RequestCtx) {
	var req beginRequest
	if len(ctx.PostBody()) > 0 {
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			router.WriteEngineError(ctx, errdef.Wrap(errdef.KindInvalidRequest, err, "decode request"))
			return
		}
	}
	if req.TimeoutMs < 0 {
		router.WriteEngineError(ctx, errdef.New(errdef.KindInvalidRequest, "timeout_ms must not be negative"))
		return
	}
	id, err := s.eng.Begin(time.Duration(req.TimeoutMs) * time.Millisecond)
	if err != nil {
		router.WriteEngineError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]string{"txn_id": id})
}

type stageRequest struct {
	Namespace string      `json:"namespace"`
	AgentID   string      `json:"agent_id"`
	Key       string      `json:"key"`
	Value     types.Value `json:"value,omitempty"`
}

func (s *Server) write(ctx *fasthttp.RequestCtx) {
	txnID, _ := ctx.UserValue("txnID").(string)
	var req stageRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		router.WriteEngineError(ctx, errdef.Wrap(errdef.KindInvalidRequest, err, "decode request"))
		return
	}
	if err := s.eng.Write(txnID, req.Namespace, req.AgentID, req.Key, req.Value); err != nil {
		router.WriteEngineError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]bool{"staged": true})
}

func (s *Server) delete(ctx *fasthttp.RequestCtx) {
	txnID, _ := ctx.UserValue("txnID").(string)
	var req stageRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		router.WriteEngineError(ctx, errdef.Wrap(errdef.KindInvalidRequest, err, "decode request"))
		return
	}
	if err := s.eng.Delete(txnID, req.Namespace, req.AgentID, req.Key); err != nil {
		router.WriteEngineError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]bool{"staged": true})
}

func (s *Server) commit(ctx *fasthttp.RequestCtx) {
	txnID, _ := ctx.UserValue("txnID").(string)
	tr := telemetry.Track("commit")
	defer tr.Finish()
	ts, err := s.eng.Commit(ctx, txnID)
	tr.Mark("apply")
	if err != nil {
		router.WriteEngineError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]uint64{"commit_ts": ts})
}

func (s *Server) abort(ctx *fasthttp.RequestCtx) {
	txnID, _ := ctx.UserValue("txnID").(string)
	s.eng.Abort(txnID)
	_ = router.WriteJSON(ctx, map[string]bool{"aborted": true})
}

// stateResponse mirrors the read contract: tombstoned and never-written
// keys report exists=false, tombstones keep their version counter.
type stateResponse struct {
	Value    types.Value `json:"value,omitempty"`
	Version  uint64      `json:"version"`
	CommitTS uint64      `json:"commit_ts"`
	Exists   bool        `json:"exists"`
}

func (s *Server) getState(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	rec, exists, err := s.eng.GetState(string(args.Peek("namespace")), string(args.Peek("agent_id")), string(args.Peek("key")))
	if err != nil {
		router.WriteEngineError(ctx, err)
		return
	}
	resp := stateResponse{Version: rec.Version, CommitTS: rec.CommitTS, Exists: exists}
	if exists {
		resp.Value = rec.Value
	}
	_ = router.WriteJSON(ctx, resp)
}

func (s *Server) getStateAtVersion(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	version, err := strconv.ParseUint(string(args.Peek("version")), 10, 64)
	if err != nil {
		router.WriteEngineError(ctx, errdef.New(errdef.KindInvalidRequest, "version must be an unsigned integer"))
		return
	}
	rec, exists, err := s.eng.GetStateAtVersion(string(args.Peek("namespace")), string(args.Peek("agent_id")), string(args.Peek("key")), version)
	if err != nil {
		router.WriteEngineError(ctx, err)
		return
	}
	resp := stateResponse{Version: rec.Version, CommitTS: rec.CommitTS, Exists: exists}
	if exists {
		resp.Value = rec.Value
	}
	_ = router.WriteJSON(ctx, resp)
}

func (s *Server) listKeys(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	keys, err := s.eng.ListKeys(string(args.Peek("namespace")), string(args.Peek("agent_id")))
	if err != nil {
		router.WriteEngineError(ctx, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	_ = router.WriteJSON(ctx, map[string][]string{"keys": keys})
}

type scanEntry struct {
	Key      string      `json:"key"`
	Value    types.Value `json:"value"`
	Version  uint64      `json:"version"`
	CommitTS uint64      `json:"commit_ts"`
}

func (s *Server) scanPrefix(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	recs, err := s.eng.ScanPrefix(string(args.Peek("namespace")), string(args.Peek("agent_id")), string(args.Peek("prefix")))
	if err != nil {
		router.WriteEngineError(ctx, err)
		return
	}
	entries := make([]scanEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, scanEntry{Key: r.Key, Value: r.Value, Version: r.Version, CommitTS: r.CommitTS})
	}
	_ = router.WriteJSON(ctx, map[string][]scanEntry{"entries": entries})
}

// replay streams matching events as NDJSON, one event per line. The
// producer is cancelled when the client disconnects (the next write fails).
func (s *Server) replay(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	namespace := string(args.Peek("namespace"))
	agentID := string(args.Peek("agent_id"))

	var startTS, endTS *uint64
	if b := args.Peek("start_ts"); len(b) > 0 {
		v, err := strconv.ParseUint(string(b), 10, 64)
		if err != nil {
			router.WriteEngineError(ctx, errdef.New(errdef.KindInvalidRequest, "start_ts must be an unsigned integer"))
			return
		}
		startTS = &v
	}
	if b := args.Peek("end_ts"); len(b) > 0 {
		v, err := strconv.ParseUint(string(b), 10, 64)
		if err != nil {
			router.WriteEngineError(ctx, errdef.New(errdef.KindInvalidRequest, "end_ts must be an unsigned integer"))
			return
		}
		endTS = &v
	}

	// validate eagerly so bad requests get a status code, not a broken stream
	if err := types.ValidateAgent(namespace, agentID); err != nil {
		router.WriteEngineError(ctx, err)
		return
	}

	ctx.Response.Header.Set("Content-Type", "application/x-ndjson")
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		streamCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tr := telemetry.Track("replay")
		defer tr.Finish()

		stream, err := s.eng.Replay(streamCtx, namespace, agentID, startTS, endTS)
		if err != nil {
			logger.Error("replay_start_failed", "error", err)
			return
		}
		enc := json.NewEncoder(w)
		for entry := range stream.Events() {
			if err := enc.Encode(replayEvent(entry)); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				// client went away; cancel stops the producer
				return
			}
		}
		if err := stream.Err(); err != nil {
			logger.Error("replay_stream_failed", "error", err)
		}
	})
}

type replayOp struct {
	Key     string      `json:"key"`
	Value   types.Value `json:"value,omitempty"`
	Version uint64      `json:"version"`
	Deleted bool        `json:"deleted,omitempty"`
}

type replayEventBody struct {
	TxnID      string     `json:"txn_id"`
	CommitTS   uint64     `json:"commit_ts"`
	Operations []replayOp `json:"operations"`
}

func replayEvent(entry types.EventLogEntry) replayEventBody {
	ops := make([]replayOp, 0, len(entry.Operations))
	for _, op := range entry.Operations {
		ops = append(ops, replayOp{Key: op.Key, Value: op.Value, Version: op.Version, Deleted: op.Deleted})
	}
	return replayEventBody{TxnID: entry.TxnID, CommitTS: entry.CommitTS, Operations: ops}
}

package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"statehouse/pkg/errdef"
	"statehouse/pkg/logger"
	"statehouse/pkg/store/keys"
	"statehouse/pkg/types"
)

// ReplayStream yields committed events for one (namespace, agent) in
// commit_ts order. Events() closes when the range is exhausted, the context
// is cancelled, or iteration fails; check Err() after the channel closes.
type ReplayStream struct {
	ch  chan types.EventLogEntry
	err atomic.Pointer[error]
}

// Events returns the stream channel. The producer yields at the consumer's
// pace; abandoning the stream without cancelling the context leaks the
// producer, which stays blocked once the channel buffer is full.
func (s *ReplayStream) Events() <-chan types.EventLogEntry { return s.ch }

// Err returns the iteration error, if any, once Events() is closed.
func (s *ReplayStream) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *ReplayStream) fail(err error) {
	s.err.Store(&err)
}

// Replay streams the event log entries in [startTS, endTS] (both inclusive)
// that contain at least one operation of (ns, agent). A nil startTS means
// from the beginning; a nil endTS pins the stream to the latest commit_ts
// at the moment Replay is called, so commits landing later are not yielded.
func (e *Engine) Replay(ctx context.Context, namespace, agentID string, startTS, endTS *uint64) (*ReplayStream, error) {
	namespace = orDefault(namespace)
	if err := types.ValidateAgent(namespace, agentID); err != nil {
		return nil, err
	}

	start := uint64(0)
	if startTS != nil {
		start = *startTS
	}
	end := e.clock.Load()
	if endTS != nil {
		end = *endTS
	}

	s := &ReplayStream{ch: make(chan types.EventLogEntry, e.replayBuffer)}
	if start > end || end == 0 {
		close(s.ch)
		return s, nil
	}
	if start == 0 {
		start = 1
	}

	metricReplayStreams.Inc()
	go func() {
		defer metricReplayStreams.Dec()
		defer close(s.ch)

		lower, upper := keys.EventRange(start, end)
		iter, err := e.backend.NewRangeIter(lower, upper)
		if err != nil {
			s.fail(err)
			return
		}
		defer iter.Close()

		for iter.Next() {
			var entry types.EventLogEntry
			if err := json.Unmarshal(iter.Value(), &entry); err != nil {
				s.fail(errdef.Wrap(errdef.KindInternal, err, "decode event log entry"))
				return
			}
			filtered := filterOps(entry.Operations, namespace, agentID)
			if len(filtered) == 0 {
				// entries with no matching operations are not yielded
				continue
			}
			entry.Operations = filtered
			select {
			case s.ch <- entry:
			case <-ctx.Done():
				logger.Debug("replay_cancelled", "namespace", namespace, "agent_id", agentID)
				return
			}
		}
		if err := iter.Err(); err != nil {
			s.fail(err)
		}
	}()
	return s, nil
}

func filterOps(ops []types.OperationRecord, namespace, agentID string) []types.OperationRecord {
	var out []types.OperationRecord
	for _, op := range ops {
		if op.Namespace == namespace && op.AgentID == agentID {
			out = append(out, op)
		}
	}
	return out
}

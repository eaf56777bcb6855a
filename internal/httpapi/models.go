// Package httpapi exposes a small admin/debug HTTP surface over a
// localactivity.Manager: enqueue and cancel activities by hand, and
// inspect live concurrency stats, without needing a full workflow
// driver wired up.
package httpapi

import (
	"time"

	"github.com/runtimelab/lam/config"
	"github.com/runtimelab/lam/contracts"
	"github.com/runtimelab/lam/internal/localactivity"
)

// EnqueueRequest is the request body for POST /api/v1/activities.
type EnqueueRequest struct {
	RunID                 string            `json:"run_id"`
	SeqNum                uint32            `json:"seq_num"`
	ActivityID            string            `json:"activity_id"`
	ActivityType          string            `json:"activity_type"`
	Input                 []byte            `json:"input,omitempty"`
	Headers               map[string][]byte `json:"headers,omitempty"`
	RetryPolicy           *RetryPolicyDTO   `json:"retry_policy,omitempty"`
	ScheduleToStartMs     int64             `json:"schedule_to_start_ms,omitempty"`
	ScheduleToCloseMs     int64             `json:"schedule_to_close_ms,omitempty"`
	StartToCloseMs        int64             `json:"start_to_close_ms,omitempty"`
	LocalRetryThresholdMs int64             `json:"local_retry_threshold_ms,omitempty"`
	WorkflowType          string            `json:"workflow_type,omitempty"`
	WorkflowID            string            `json:"workflow_id,omitempty"`
	Attempt               uint32            `json:"attempt,omitempty"`
}

// RetryPolicyDTO mirrors config.RetryPolicyConfig. It is copied into the
// schedule record and the dispatched Start task; the manager's retry
// decisions do not read it.
type RetryPolicyDTO struct {
	InitialIntervalMs  int64    `json:"initial_interval_ms"`
	BackoffCoefficient float64  `json:"backoff_coefficient"`
	MaxIntervalMs      int64    `json:"max_interval_ms"`
	MaxAttempts        int      `json:"max_attempts"`
	NonRetryableTypes  []string `json:"non_retryable_error_types,omitempty"`
}

func (r *RetryPolicyDTO) toConfig() config.RetryPolicyConfig {
	if r == nil {
		return config.RetryPolicyConfig{}
	}
	return config.RetryPolicyConfig{
		InitialIntervalMs:  r.InitialIntervalMs,
		BackoffCoefficient: r.BackoffCoefficient,
		MaxIntervalMs:      r.MaxIntervalMs,
		MaxAttempts:        r.MaxAttempts,
		NonRetryableTypes:  r.NonRetryableTypes,
	}
}

// toRecord converts the request DTO into a localactivity.ScheduleRecord.
func (r *EnqueueRequest) toRecord() localactivity.ScheduleRecord {
	rec := localactivity.ScheduleRecord{
		ID:                  contracts.ExecutingLAID{RunID: contracts.RunID(r.RunID), SeqNum: contracts.SeqNum(r.SeqNum)},
		ActivityID:          r.ActivityID,
		ActivityType:        r.ActivityType,
		Input:               r.Input,
		Headers:             r.Headers,
		RetryPolicy:         r.RetryPolicy.toConfig(),
		ScheduleToStart:     time.Duration(r.ScheduleToStartMs) * time.Millisecond,
		LocalRetryThreshold: time.Duration(r.LocalRetryThresholdMs) * time.Millisecond,
		WorkflowType:        r.WorkflowType,
		WorkflowExecution:   localactivity.WorkflowExecution{WorkflowID: r.WorkflowID, RunID: contracts.RunID(r.RunID)},
		ScheduleTime:        time.Now(),
		Attempt:             r.Attempt,
	}

	switch {
	case r.ScheduleToCloseMs > 0 && r.StartToCloseMs > 0:
		rec.CloseTimeouts = localactivity.CloseTimeoutPolicy{
			Kind:            localactivity.CloseTimeoutBoth,
			ScheduleToClose: time.Duration(r.ScheduleToCloseMs) * time.Millisecond,
			StartToClose:    time.Duration(r.StartToCloseMs) * time.Millisecond,
		}
	case r.ScheduleToCloseMs > 0:
		rec.CloseTimeouts = localactivity.CloseTimeoutPolicy{
			Kind:            localactivity.CloseTimeoutScheduleOnly,
			ScheduleToClose: time.Duration(r.ScheduleToCloseMs) * time.Millisecond,
		}
	case r.StartToCloseMs > 0:
		rec.CloseTimeouts = localactivity.CloseTimeoutPolicy{
			Kind:         localactivity.CloseTimeoutStartOnly,
			StartToClose: time.Duration(r.StartToCloseMs) * time.Millisecond,
		}
	}

	return rec
}

// ResolutionDTO is the JSON rendering of localactivity.Resolution,
// returned synchronously from the enqueue and cancel endpoints when the
// activity resolves immediately.
type ResolutionDTO struct {
	SeqNum    uint32 `json:"seq_num"`
	Kind      string `json:"kind"`
	RuntimeMs int64  `json:"runtime_ms"`
	Attempt   uint32 `json:"attempt"`
	BackoffMs *int64 `json:"backoff_ms,omitempty"`
}

func toResolutionDTO(res localactivity.Resolution) ResolutionDTO {
	dto := ResolutionDTO{
		SeqNum:    uint32(res.Seq),
		Kind:      resultKindString(res.Result.Kind),
		RuntimeMs: res.Runtime.Milliseconds(),
		Attempt:   res.Attempt,
	}
	if res.Backoff != nil {
		ms := res.Backoff.Milliseconds()
		dto.BackoffMs = &ms
	}
	return dto
}

func resultKindString(kind localactivity.ExecutionResultKind) string {
	switch kind {
	case localactivity.ResultCompleted:
		return "completed"
	case localactivity.ResultFailed:
		return "failed"
	case localactivity.ResultTimedOut:
		return "timed_out"
	case localactivity.ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// EnqueueResponse is returned by POST /api/v1/activities.
type EnqueueResponse struct {
	Queued     bool           `json:"queued"`
	Resolution *ResolutionDTO `json:"resolution,omitempty"`
}

// CancelResponse is returned by POST /api/v1/activities/{run_id}/{seq_num}/cancel.
type CancelResponse struct {
	Resolved   bool           `json:"resolved"`
	Resolution *ResolutionDTO `json:"resolution,omitempty"`
}

// StatsResponse is returned by GET /api/v1/stats.
type StatsResponse struct {
	Outstanding int `json:"outstanding"`
	Admitted    int `json:"admitted"`
}

// ErrorDTO represents an error in the response.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

package domain

import "testing"

func TestCanTransitionExecutionStatus(t *testing.T) {
	cases := []struct {
		current ExecutionStatus
		next    ExecutionStatus
		want    bool
	}{
		{ExecutionRunning, ExecutionWaitingApproval, true},
		{ExecutionRunning, ExecutionSucceeded, true},
		{ExecutionRunning, ExecutionFailed, true},
		{ExecutionWaitingApproval, ExecutionRunning, true},
		{ExecutionWaitingApproval, ExecutionFailed, true},
		{ExecutionWaitingApproval, ExecutionSucceeded, false},
		{ExecutionSucceeded, ExecutionRunning, false},
		{ExecutionSucceeded, ExecutionFailed, false},
		{ExecutionFailed, ExecutionRunning, false},
		{ExecutionRunning, ExecutionRunning, true},
		{"", ExecutionRunning, false},
	}
	for _, tc := range cases {
		if got := CanTransitionExecutionStatus(tc.current, tc.next); got != tc.want {
			t.Errorf("CanTransitionExecutionStatus(%s, %s)=%t, want %t", tc.current, tc.next, got, tc.want)
		}
	}
}

func TestExecutionStatusTerminal(t *testing.T) {
	if !ExecutionSucceeded.Terminal() || !ExecutionFailed.Terminal() {
		t.Fatalf("SUCCESS and FAILED are terminal")
	}
	if ExecutionRunning.Terminal() || ExecutionWaitingApproval.Terminal() {
		t.Fatalf("RUNNING and WAITING_APPROVAL are not terminal")
	}
}

func TestStageStatusTerminal(t *testing.T) {
	for _, status := range []StageStatus{StageSucceeded, StageFailed, StageSkipped} {
		if !status.Terminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
	for _, status := range []StageStatus{StageRunning, StageWaitingApproval} {
		if status.Terminal() {
			t.Errorf("%s should not be terminal", status)
		}
	}
}

func TestExecutionRecordValidate(t *testing.T) {
	record := ExecutionRecord{
		ID:          "exec-1",
		PipelineRef: "pipe-1",
		Status:      ExecutionRunning,
		TriggeredBy: "dev@example.com",
	}
	if err := record.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	missing := record
	missing.TriggeredBy = " "
	if err := missing.Validate(); err == nil {
		t.Fatalf("Validate() should reject missing triggering user")
	}
}

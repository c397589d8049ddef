package domain

import "testing"

func TestNormalizeStageType(t *testing.T) {
	cases := []struct {
		in   string
		want StageType
	}{
		{"deploy", StageTypeDeploy},
		{"DEPLOY", StageTypeDeploy},
		{" approval ", StageTypeApproval},
		{"plan", StageTypePlan},
		{"unknown-kind", StageTypeGeneric},
		{"", StageTypeGeneric},
	}
	for _, tc := range cases {
		if got := NormalizeStageType(tc.in); got != tc.want {
			t.Errorf("NormalizeStageType(%q)=%s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestMandatesTool(t *testing.T) {
	if !StageTypeDeploy.MandatesTool() {
		t.Fatalf("deploy mandates a tool")
	}
	for _, st := range StageTypes() {
		if st == StageTypeDeploy {
			continue
		}
		if st.MandatesTool() {
			t.Errorf("%s should not mandate a tool", st)
		}
	}
}

func TestStageRunnable(t *testing.T) {
	if !(Stage{Enabled: true, ToolSelected: true}).Runnable() {
		t.Fatalf("enabled and selected stage is runnable")
	}
	if (Stage{Enabled: false, ToolSelected: true}).Runnable() {
		t.Fatalf("disabled stage is not runnable")
	}
	if (Stage{Enabled: true, ToolSelected: false}).Runnable() {
		t.Fatalf("unselected stage is not runnable")
	}
}

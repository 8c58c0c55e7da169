package jobs_test

import (
	"testing"

	"dispatchd/internal/jobs"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "empty", payload: "", wantErr: true},
		{name: "empty object", payload: `{}`, wantErr: true},
		{name: "non-empty object", payload: `{"to":"a@b.com"}`, wantErr: false},
		{name: "not an object", payload: `[1,2,3]`, wantErr: true},
		{name: "malformed json", payload: `{not json}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := jobs.ValidatePayload([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePayload(%s) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			}
		})
	}
}

func TestValidateType(t *testing.T) {
	valid := []jobs.Type{jobs.TypeEmail, jobs.TypeWhatsApp, jobs.TypeSMS, jobs.TypeNotification, jobs.TypeCronjob}
	for _, ty := range valid {
		if err := jobs.ValidateType(ty); err != nil {
			t.Errorf("ValidateType(%s) = %v, want nil", ty, err)
		}
	}

	if err := jobs.ValidateType(jobs.Type("BOGUS")); err == nil {
		t.Error("ValidateType(BOGUS) = nil, want error")
	}
}

func TestStatusIsValid(t *testing.T) {
	valid := []jobs.Status{jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed}
	for _, st := range valid {
		if !st.IsValid() {
			t.Errorf("Status(%s).IsValid() = false, want true", st)
		}
	}
	if jobs.Status("bogus").IsValid() {
		t.Error(`Status("bogus").IsValid() = true, want false`)
	}
}

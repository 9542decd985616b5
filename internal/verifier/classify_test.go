package verifier

import (
	"testing"

	"mailprobe/internal/lookup"
	"mailprobe/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		message    string
		wantStatus models.VerificationStatus
		wantCatch  bool
		wantTemp   bool
	}{
		// ── Acceptance ───────────────────────────────────────────────────────
		{"plain accept", 250, "OK", models.StatusValid, false, false},
		{"forwarding accept", 251, "User not local; will forward", models.StatusValid, false, false},
		{"cannot verify but will accept", 252, "Cannot VRFY user", models.StatusCatchAll, true, false},

		// ── Permanent rejection ──────────────────────────────────────────────
		{"no such user", 550, "No such user here", models.StatusInvalid, false, false},
		{"user not local", 551, "User not local", models.StatusInvalid, false, false},
		{"mailbox full", 552, "Exceeded storage allocation", models.StatusInvalid, false, false},
		{"bad mailbox name", 553, "Mailbox name not allowed", models.StatusInvalid, false, false},
		{"transaction failed", 554, "Transaction failed", models.StatusInvalid, false, false},
		{"other permanent", 521, "Machine does not accept mail", models.StatusInvalid, false, false},

		// ── Transient rejection ──────────────────────────────────────────────
		{"mailbox busy", 450, "Mailbox busy", models.StatusRetryLater, false, true},
		{"local error", 451, "Local error in processing", models.StatusRetryLater, false, true},
		{"insufficient storage", 452, "Insufficient storage", models.StatusRetryLater, false, true},
		{"service closing", 421, "Service not available", models.StatusRetryLater, false, true},
		{"other transient", 471, "Please try again", models.StatusRetryLater, false, true},

		// ── Greylisting ──────────────────────────────────────────────────────
		// The enumerated numeric branches win over the keyword...
		{"451 mentioning greylist stays retry_later", 451, "Greylisted, try again in 300s", models.StatusRetryLater, false, true},
		{"421 mentioning greylist stays retry_later", 421, "greylist active", models.StatusRetryLater, false, true},
		// ...the keyword catches codes outside them, in either case.
		{"non-enumerated 4xx greylist", 471, "You have been Greylisted", models.StatusGreylisted, false, true},
		{"non-enumerated 5xx greylist", 520, "greylisting in effect", models.StatusGreylisted, false, true},

		// ── Everything else ──────────────────────────────────────────────────
		{"2xx oddity is unknown", 235, "huh", models.StatusUnknown, false, false},
		{"3xx is unknown", 354, "Start mail input", models.StatusUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(tt.code, tt.message)

			if v.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", v.Status, tt.wantStatus)
			}
			if v.Code != tt.code {
				t.Errorf("code = %d, want %d", v.Code, tt.code)
			}
			if v.IsCatchAll != tt.wantCatch {
				t.Errorf("IsCatchAll = %v, want %v", v.IsCatchAll, tt.wantCatch)
			}
			if v.IsTemporary != tt.wantTemp {
				t.Errorf("IsTemporary = %v, want %v", v.IsTemporary, tt.wantTemp)
			}
			if v.Reason == "" {
				t.Error("reason is empty")
			}

			// Cross-field invariants.
			if (v.Status == models.StatusCatchAll) != v.IsCatchAll {
				t.Errorf("catch_all status and IsCatchAll disagree: %+v", v)
			}
			if (v.Status == models.StatusRetryLater || v.Status == models.StatusGreylisted) && !v.IsTemporary {
				t.Errorf("transient status without IsTemporary: %+v", v)
			}
		})
	}
}

func TestClassifyBlocked(t *testing.T) {
	tests := []struct {
		name     string
		state    string
		code     int
		wantTemp bool
	}{
		// A hostile greeting is permanent no matter the code class.
		{"greeting 554", lookup.StateConnect, 554, false},
		{"greeting 421", lookup.StateConnect, 421, false},

		{"ehlo 4xx is transient", lookup.StateEhlo, 450, true},
		{"ehlo 5xx is permanent", lookup.StateEhlo, 550, false},
		{"helo 5xx is permanent", lookup.StateHelo, 502, false},
		{"mail from 4xx is transient", lookup.StateMailFrom, 451, true},
		{"mail from 5xx is permanent", lookup.StateMailFrom, 553, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := classifyBlocked(tt.state, tt.code, "nope")

			if v.Status != models.StatusBlocked {
				t.Errorf("status = %q, want blocked", v.Status)
			}
			if v.IsTemporary != tt.wantTemp {
				t.Errorf("IsTemporary = %v, want %v", v.IsTemporary, tt.wantTemp)
			}
		})
	}
}

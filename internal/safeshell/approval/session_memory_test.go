package approval

import (
	"testing"
	"time"
)

func TestSessionMemoryRememberApprovalAndDenialAreExclusive(t *testing.T) {
	sm := NewSessionMemory(time.Hour)

	sm.RememberApproval("destructive", "rm")
	if !sm.IsPreApproved("destructive", "rm") {
		t.Fatal("expected rm to be pre-approved")
	}
	if sm.IsPreDenied("destructive", "rm") {
		t.Fatal("rm should not be pre-denied after being remembered as approved")
	}

	sm.RememberDenial("destructive", "rm")
	if sm.IsPreApproved("destructive", "rm") {
		t.Fatal("remembering a denial should clear the prior approval entry")
	}
	if !sm.IsPreDenied("destructive", "rm") {
		t.Fatal("expected rm to be pre-denied")
	}
}

func TestSessionMemoryExpiresAfterTTL(t *testing.T) {
	sm := NewSessionMemory(time.Minute)
	fakeNow := time.Now()
	sm.now = func() time.Time { return fakeNow }

	sm.RememberApproval("rule", "git push")
	if !sm.IsPreApproved("rule", "git push") {
		t.Fatal("expected immediate pre-approval to hold")
	}

	fakeNow = fakeNow.Add(2 * time.Minute)
	if sm.IsPreApproved("rule", "git push") {
		t.Fatal("expected pre-approval to have expired after the TTL elapsed")
	}
}

func TestSessionMemoryZeroTTLNeverExpires(t *testing.T) {
	sm := NewSessionMemory(0)
	fakeNow := time.Now()
	sm.now = func() time.Time { return fakeNow }

	sm.RememberApproval("rule", "ls")
	fakeNow = fakeNow.Add(24 * time.Hour)
	if !sm.IsPreApproved("rule", "ls") {
		t.Fatal("a zero TTL should mean entries never expire")
	}
}

func TestSessionMemoryUnknownKeyIsNeitherApprovedNorDenied(t *testing.T) {
	sm := NewSessionMemory(time.Hour)
	if sm.IsPreApproved("rule", "unknown") || sm.IsPreDenied("rule", "unknown") {
		t.Fatal("an unrecorded key should be neither pre-approved nor pre-denied")
	}
}

package transcript

import "testing"

func TestAttributor_StartsWithInterviewer(t *testing.T) {
	a := NewAttributor()
	if a.Current() != SpeakerInterviewer {
		t.Errorf("initial speaker = %v, want interviewer", a.Current())
	}
}

func TestAttributor_SwapToggles(t *testing.T) {
	a := NewAttributor()
	if got := a.Swap(); got != SpeakerCandidate {
		t.Errorf("first swap = %v, want candidate", got)
	}
	if got := a.Swap(); got != SpeakerInterviewer {
		t.Errorf("second swap = %v, want interviewer", got)
	}
}

func TestAttributor_HintOverrides(t *testing.T) {
	a := NewAttributor()
	a.Swap()
	a.Hint(SpeakerInterviewer)
	if a.Current() != SpeakerInterviewer {
		t.Errorf("after hint, speaker = %v, want interviewer", a.Current())
	}
}

func TestSpeakerOther(t *testing.T) {
	if SpeakerInterviewer.Other() != SpeakerCandidate {
		t.Error("interviewer.Other() should be candidate")
	}
	if SpeakerCandidate.Other() != SpeakerInterviewer {
		t.Error("candidate.Other() should be interviewer")
	}
}

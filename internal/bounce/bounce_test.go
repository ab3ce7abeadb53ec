package bounce

import "testing"

func TestIsBounceSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    bool
	}{
		{"Undeliverable: Your message to someone", true},
		{"Mail Delivery Subsystem", true},
		{"Delivery Status Notification (Failure)", true},
		{"Automatic reply: out of office", true},
		{"Fwd: Undeliverable: bounced", true},
		{"Re: quarterly numbers", false},
		{"", false},
		{"   ", false},
		{"Notice: planned maintenance window", true},
	}
	for _, c := range cases {
		if got := IsBounceSubject(c.subject); got != c.want {
			t.Errorf("IsBounceSubject(%q) = %v, want %v", c.subject, got, c.want)
		}
	}
}

func TestIsBounceSubjectBracketsAndUnderscores(t *testing.T) {
	if !IsBounceSubject("[undeliverable] mail") {
		t.Error("expected bracketed undeliverable subject to classify as bounce")
	}
	if !IsBounceSubject("auto_reply: vacation") {
		t.Error("expected underscore-joined auto_reply subject to classify as bounce")
	}
}

package imap

import (
	"testing"

	imapv2 "github.com/emersion/go-imap/v2"
)

func TestCompositeIDRoundTrip(t *testing.T) {
	id := compositeID("INBOX", imapv2.UID(42))
	if id != "INBOX:42" {
		t.Fatalf("compositeID = %q, want %q", id, "INBOX:42")
	}

	mailbox, uid, err := parseCompositeID(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mailbox != "INBOX" || uid != imapv2.UID(42) {
		t.Fatalf("parseCompositeID = (%q, %d), want (%q, %d)", mailbox, uid, "INBOX", 42)
	}
}

func TestCompositeIDWithColonInMailboxName(t *testing.T) {
	// Mailbox names can themselves contain ":" on some servers (e.g. a
	// custom hierarchy separator); parseCompositeID must split on the
	// last colon so the UID always parses correctly.
	id := compositeID("Some:Folder", imapv2.UID(7))
	mailbox, uid, err := parseCompositeID(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mailbox != "Some:Folder" || uid != imapv2.UID(7) {
		t.Fatalf("parseCompositeID = (%q, %d), want (%q, %d)", mailbox, uid, "Some:Folder", 7)
	}
}

func TestParseCompositeIDRejectsMalformed(t *testing.T) {
	cases := []string{"", "noColon", "INBOX:notanumber"}
	for _, c := range cases {
		if _, _, err := parseCompositeID(c); err == nil {
			t.Errorf("parseCompositeID(%q) succeeded, want error", c)
		}
	}
}

package model

// Secondary index names used across the store buckets. Centralized here
// so vendor/cache/scheduler code references the same constants instead
// of repeating string literals.
const (
	IdxAccountID   = "account_id"
	IdxMailboxID   = "mailbox_id"
	IdxThreadID    = "thread_id"
	IdxMessageID   = "message_id"
	IdxStatus      = "status"
	IdxNextAttempt = "next_attempt_at"
)

func (a Account) PrimaryKey() string { return a.ID }
func (a Account) SecondaryKeys() map[string]string {
	return map[string]string{"email": a.Email}
}

func (m Mailbox) PrimaryKey() string { return m.ID }
func (m Mailbox) SecondaryKeys() map[string]string {
	return map[string]string{IdxAccountID: m.AccountID}
}

func (e Envelope) PrimaryKey() string { return e.ID }
func (e Envelope) SecondaryKeys() map[string]string {
	return map[string]string{
		IdxAccountID: e.AccountID,
		IdxMailboxID: e.MailboxID,
		IdxThreadID:  e.ThreadID,
		IdxMessageID: e.MessageID,
	}
}

func (t EmailThread) PrimaryKey() string { return t.ID }
func (t EmailThread) SecondaryKeys() map[string]string {
	return map[string]string{
		IdxAccountID: t.AccountID,
		IdxMailboxID: t.MailboxID,
	}
}

func (c CacheItem) PrimaryKey() string            { return c.Key }
func (c CacheItem) SecondaryKeys() map[string]string { return nil }

func (p Proxy) PrimaryKey() string                { return p.ID }
func (p Proxy) SecondaryKeys() map[string]string { return nil }

func (m MTA) PrimaryKey() string                { return m.ID }
func (m MTA) SecondaryKeys() map[string]string { return nil }

func (t SendEmailTask) PrimaryKey() string { return t.ID }
func (t SendEmailTask) SecondaryKeys() map[string]string {
	return map[string]string{
		IdxAccountID:   t.AccountID,
		IdxStatus:      string(t.Status),
		IdxNextAttempt: t.NextAttemptAt.UTC().Format("20060102150405.000000000"),
	}
}

func (c GmailCheckPoint) PrimaryKey() string { return c.AccountID + "/" + c.LabelID }
func (c GmailCheckPoint) SecondaryKeys() map[string]string {
	return map[string]string{IdxAccountID: c.AccountID}
}

func (d FolderDeltaLink) PrimaryKey() string { return d.AccountID + "/" + d.FolderID }
func (d FolderDeltaLink) SecondaryKeys() map[string]string {
	return map[string]string{IdxAccountID: d.AccountID}
}

func (s AccountRunningState) PrimaryKey() string                { return s.AccountID }
func (s AccountRunningState) SecondaryKeys() map[string]string { return nil }

func (a AddressEntity) PrimaryKey() string { return a.EnvelopeID + "/" + a.Kind + "/" + a.Address }
func (a AddressEntity) SecondaryKeys() map[string]string {
	return map[string]string{"envelope_id": a.EnvelopeID}
}

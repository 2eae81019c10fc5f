// Package store provides the activity history ledger. Every activity that
// enters a conversation transcript is archived here so history can be
// queried and exported after the live conversation is gone.
package store

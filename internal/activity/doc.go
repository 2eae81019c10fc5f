// Package activity defines the Bot-Framework-shaped activity envelope and
// the per-conversation factory that stamps ids, timestamps and routing onto
// outgoing activities.
package activity

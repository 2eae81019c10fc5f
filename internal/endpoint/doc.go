// Package endpoint models the bot delivery target: the messaging URL, its
// app credentials and the HTTP client that posts activities to it, mapping
// failures to a small typed taxonomy.
package endpoint

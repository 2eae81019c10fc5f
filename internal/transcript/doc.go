// Package transcript encodes and decodes conversation transcripts: the
// .transcript file format (an ordered array of "activity add" records),
// the .chat seed format, and an HTML export for review.
package transcript

// Package srt implements the SRT (Secure Reliable Transport) listener that
// feeds the receiver. It accepts one publishing caller at a time and hands
// every received chunk to an ingest.Handler on the read goroutine.
package srt

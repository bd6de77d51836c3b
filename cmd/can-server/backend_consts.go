package main

import "time"

const (
	txQueueSize  = 1024 // capacity of the async TX queue
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
	// rxReopenAfter consecutive read errors make the RX loop reopen the socket.
	rxReopenAfter = 8
)

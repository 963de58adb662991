// Package transcription runs whole-file transcriptions through a vendor
// batch transcriber. It bounds concurrent requests, retries network
// failures with exponential backoff, and keeps request statistics.
package transcription

// Package session runs realtime transcription sessions. A Session relays
// client audio to a vendor recognizer and vendor results back to the client
// as incremental transcript messages, and the Manager bounds how many run at
// once.
package session

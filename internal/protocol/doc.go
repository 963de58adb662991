// Package protocol implements the client-facing realtime speech protocol.
// It decodes client JSON messages into a tagged Message variant and encodes
// outbound transcript and error events, in either the native message names
// or the OpenAI realtime transcription names.
package protocol

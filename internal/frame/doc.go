// Package frame implements the binary envelope used by binary-framed vendor
// protocols. A frame is a 4-byte header (version, header size, message type,
// flags, serialization, compression), an optional signed sequence number, a
// big-endian payload length and the payload, which may be gzip-compressed.
package frame

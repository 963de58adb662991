// Package doubao implements the ByteDance (Doubao/Volcengine) synthesis
// adapters: the ws_binary streaming protocol and the v3 unidirectional
// HTTP API.
package doubao

// Package proxyerr defines the error taxonomy shared by the proxy.
// Every failure that reaches a client carries one of the stable kinds below
// so that clients can react without parsing messages.
package proxyerr

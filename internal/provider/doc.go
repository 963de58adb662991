// Package provider defines the capability contract every vendor adapter
// implements. Vendor callbacks and event shapes are normalised into a single
// pull-based Event stream so sessions consume every vendor the same way.
package provider

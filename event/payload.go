// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package event

import "github.com/z5labs/mgbridge/native"

// Event is one decoded native notification.
type Event struct {
	Type Type
	Code int32
	Conn native.Conn

	// Info is only set by native revisions which pass the request info
	// explicitly. Later revisions leave it nil and the info is pulled
	// from the connection on demand.
	Info *native.RequestInfo
}

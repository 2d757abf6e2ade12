// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package mgbridge runs Go handlers inside an embeddable, thread per
// connection HTTP server.
//
// The native server is anything implementing [native.Library]. It calls
// back into Go through a single trampoline for every event, which the
// bridge decodes into an [event.Event] and hands to a [dispatch.Handler]
// together with a [conn.View] of the connection.
//
// # Basic Usage
//
//	srv, err := mgbridge.Start(ctx, engine.New(), option.Table{
//	    "listening_ports": "8080",
//	    "document_root":   "/srv/www",
//	}, dispatch.HandlerFunc(func(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
//	    if ev.Type != event.NewRequest {
//	        return false, nil
//	    }
//	    _, err := v.Printf("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nhello")
//	    return true, err
//	}))
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//
// # Lifetime
//
// A [Server] keeps its trampoline registered until [Server.Stop] has
// sealed the registry, waited for running callbacks, and stopped the
// native server. Every method fails with [ErrAlreadyStopped] afterwards.
// A server which becomes unreachable without being stopped is stopped
// by a finalizer.
package mgbridge

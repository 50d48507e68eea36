// Package rtsp implements the per-connection core of the server: client
// lifecycle, the output path, the disconnect signal and session liveness
// supervision.
//
// Every Client belongs to a Worker, which binds it to a single event loop.
// Client state is only touched from that loop; reads and writes on the socket
// run in helper goroutines that report back through loop watchers.
//
// Sessions are attached by the RequestHandler that negotiates media
// (typically on SETUP) through Client.AddSession. BasicHandler only answers
// OPTIONS, so a worker running it never supervises any session.
//
// Liveness supervision works per session:
//   - a live session idle for the soft timeout gets one RTCP BYE
//   - a session idle for the hard timeout gets its connection closed
//   - in heartbeat-aware mode an SDES report is sent on every tick and, with
//     the RTCP watchdog enabled, a peer silent for the heartbeat timeout is
//     disconnected
package rtsp

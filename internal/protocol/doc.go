// Package protocol implements the wire formats the connection core touches:
// RTSP interleaved binary frames, framing of RTSP text messages, and the RTCP
// compound packets used for stream-end and heartbeat notifications.
package protocol

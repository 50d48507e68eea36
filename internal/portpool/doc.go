// Package portpool reserves RTP/RTCP UDP port pairs for media sessions served
// by child processes.
package portpool

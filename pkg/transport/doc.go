// Package transport maintains the TCP connection to the emulator's
// printer and console ports, reconnecting with fixed delays whenever the
// peer is absent or goes away.
package transport

// Package netio provides the UDP socket I/O for the SPA ingestion path:
// binding the configured listen addresses and handing each datagram to the
// pipeline orchestrator.
package netio

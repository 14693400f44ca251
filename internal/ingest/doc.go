// Package ingest receives the Ogg/Opus stream from a source and feeds it to a
// relay.Router.
//
// Two transports share the same classify, cache and forward routine:
//
//   - UDPSource accepts one page per datagram. It has no authentication and is
//     meant for a loopback or otherwise trusted network.
//   - WSSource accepts one WebSocket source at a time. The source must present
//     username, password and port headers matching the configured credentials
//     before the connection is upgraded; each binary message is one page.
package ingest

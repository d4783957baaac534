// Package transport negotiates the proximity link between holder and reader.
//
// A Negotiator keeps a registry of Factory implementations keyed by
// connection method kind. Advertise opens a Listener for one method (and
// withdraws any earlier one); WaitForConnection blocks for the first reader
// and always withdraws the advertisement before returning, so the holder is
// never left discoverable.
//
// Transports:
//   - Websocket: local-network websocket served by the holder, binary frames
//     (nhooyr.io/websocket). DialWebsocket is the reader side.
//   - BLE: adapts a platform Radio binding; messages are length-prefixed on
//     the radio's byte stream.
//   - Loopback: in-process pipes for demos and tests.
//
// Handles report a clean close by the peer as io.EOF from Receive.
package transport

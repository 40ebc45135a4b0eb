// Package bridge is the network I/O unit joining a transport connection to
// the device registry and the inbox/outbox manager.
//
// Incoming DEVICE_DATA messages are pushed into the read queue of the
// named device channel; other messages are filed (simulator side) or
// staged (robot side) in the manager. A pump drains every dirty device
// channel into DEVICE_DATA messages on the outbox and transmits the
// outbox. Idle connections get an immediate heartbeat.
//
//	socket ──► Connection ──► Bridge.OnMessage ──┬─► Channel.PushRead
//	                                              └─► Manager inbox
//	Channel.Write ──► Bridge.DrainDevices ──► Manager outbox ──► Flush ──► socket
package bridge

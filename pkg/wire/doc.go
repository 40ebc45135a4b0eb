// Package wire defines the typed messages exchanged between the robot
// controller and the simulator, and their CBOR encoding.
//
// A Message carries a Kind (what the payload describes), a Module (which
// logical subsystem it addresses), an optional Name, and an ordered list of
// opaque payload fields. This package does not interpret payloads beyond the
// kind and module tags.
//
// # CBOR Integer Keys
//
// Messages are encoded as CBOR maps with integer keys:
//
//	{
//	  1: kind,     // uint8
//	  2: module,   // uint8
//	  3: name,     // text, omitted when empty
//	  4: payload   // array of {1: bytes, 2: isText}
//	}
//
// # Well-Known Messages
//
// OPT_DATA2 is the keep-alive kind. HeartbeatMessage builds the canonical
// keep-alive, and GreetingMessage the first message a robot sends on a new
// connection. Device byte-stream traffic uses DEVICE_DATA with the device
// identifier in Name.
package wire

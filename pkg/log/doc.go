// Package log captures bridge events for offline inspection.
//
// It is separate from operational logging (slog). Components emit Event
// values to a Logger at the layer where they happen:
//   - Transport: raw frames (FrameEvent)
//   - Wire: decoded messages (MessageEvent)
//   - Device: byte traffic through emulated channels (DeviceEvent)
//   - Service: connection and readiness transitions (StateChangeEvent)
//
// Errors such as malformed frames are captured as ErrorEventData.
//
// Typical setup:
//
//	fl, _ := log.NewFileLogger("bridge.slog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// Capture files are a plain stream of CBOR events; simbridge-log reads them.
package log

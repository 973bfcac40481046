// Package live implements the deskmate live session manager: a long-lived
// bidirectional streaming conversation with a remote generative AI backend.
//
// # Architecture
//
// A Session owns one connection to a Backend and mediates all traffic:
//
//   - Input path: SendInput enqueues text, audio, and video chunks into a
//     FIFO queue drained by a single send loop, so chunks reach the backend
//     in submission order.
//   - Output path: a receive loop translates backend messages into Events
//     delivered on the Output channel. Consuming the channel drains the live
//     stream; closing the session closes the channel.
//   - Interruption: Interrupt (or a backend-detected barge-in) truncates the
//     in-flight model turn and records the truncation point, so transcripts
//     can be reconstructed to what the user actually heard.
//   - Resumption: the backend periodically issues opaque handles; on a
//     transient disconnect the session suspends and reconnects with the
//     freshest handle under capped exponential backoff.
//
// # State Machine
//
//	CONNECTING → ACTIVE ⇄ INTERRUPTED
//	                │
//	                ├──→ SUSPENDED ──→ ACTIVE (resume) or TERMINATED
//	                └──→ TERMINATED (Close or unrecoverable error)
//
// TERMINATED is terminal; no operation is valid afterwards except opening a
// new session.
//
// # Usage
//
//	cfg := live.DefaultSessionConfig()
//	cfg.Model = "gemini-2.0-flash-live-001"
//	cfg.SystemInstruction = "You are a helpful desktop assistant."
//
//	session, err := live.Open(ctx, backend, cfg)
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	session.SendInput(types.TextChunk{Text: "hello"})
//
//	for event := range session.Output() {
//	    switch e := event.(type) {
//	    case *live.TextDeltaEvent:
//	        fmt.Print(e.Text)
//	    case *live.AudioDeltaEvent:
//	        playAudio(e.Data)
//	    }
//	}
package live

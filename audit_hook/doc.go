// Package audithook is a Conveyor extension that bridges lifecycle
// events to an immutable audit trail backend.
//
// Every job, batch, and webhook lifecycle hook emits a structured audit
// event through the [Recorder] interface. The extension assigns
// appropriate severity levels (info for normal operation, warning for
// retries, critical for terminal failures) and rich metadata (job kind,
// elapsed time, retry counts, errors).
//
// # Usage
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(audithook.New(recorder)),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionWebhookExhausted,
//	    ),
//	)
package audithook

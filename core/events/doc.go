// Package events defines the outbound session event contract and its wire
// framing.
//
// A turn emits events in this order:
//
//   - StartProcessing (start_processing): the utterance was handed to the
//     pipeline.
//   - TranscriptPartial (text_response_partial, or text_response when final):
//     user transcript paired with the dialog reply text.
//   - AudioChunk (audio_chunk): synthesized speech, zero or more times.
//
// and then exactly one terminal event:
//
//   - EndOfSession (end_of_session): the turn completed; carries a reference
//     to the retained response audio, or null.
//   - Error (error): the turn failed with a user-facing message.
//   - Cancelled (cancelled): the turn was aborted by the client.
//
// Inbound control messages are parsed by [ParseControl].
package events

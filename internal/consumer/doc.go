/*
Package consumer turns the relay's event stream into live, readable output.

# Overview

A Session owns everything one translation pane needs: the selected
direction, the accumulated output, the scroll intent and the in-flight
request. It drives a Surface (the render target) through this state machine:

	Idle -> Requesting -> Streaming -> Completed
	                 \           \--> Failed
	                  \--> Failed

SwitchDirection and Reset return to Idle and clear the output. Cancel
returns to Idle keeping what arrived so far. SwitchDirection and Reset are
rejected with ErrBusy while a request is in
flight, so a pane never runs two translations at once.

# Stream decoding

Stream reads the response body in chunks through a streaming UTF-8 decoder,
so a multi-byte character split across reads is never torn. Decoded text is
split into newline-terminated records by LineSplitter, which keeps an
unterminated tail until the next read. Each record goes through ParseRecord:

  - records without the "data: " marker are ignored
  - "data: [DONE]" is ignored; the end of the body ends the stream
  - a chunk with a content fragment yields a delta
  - truncated or broken JSON is reported as Incomplete or Invalid and dropped

# Rendering

Every delta triggers a render pass. While the stream is still open the text
goes through RepairMarkup first, which closes a dangling bold, italic or
inline-code delimiter so half-written emphasis does not swallow the rest of
the output. The final render after completion shows the exact text.

Auto-scroll follows the output unless the user scrolled at least
ScrollThreshold away from the bottom during the stream; scrolling back to the
bottom resumes it.

# Cancellation

Each request is bound to a context and a generation number. Cancel aborts the
transfer and bumps the generation; deltas and terminal states that belong to
an older generation are discarded instead of being painted over newer state.
*/
package consumer

// Package notifier sends short operator messages for invite events.
//
// It subscribes to the event bus for invite outcomes and pool-empty
// transitions and delivers them through a transport.Sender (the Bot API
// adapter in production).
//
// # Backpressure
//
// The subscription buffer is the only queue. When the operator chat is slow
// or rate limited, the bus drops events instead of slowing the invite loop.
// Sends are paced with a token bucket and retried with jittered exponential
// backoff, honouring Telegram's retry-after hint.
package notifier

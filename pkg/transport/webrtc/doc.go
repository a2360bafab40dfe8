// Package webrtc adapts WebRTC data channels to the uniform session
// contract.
//
// A session is one PeerConnection carrying one data channel, detached
// for raw message I/O. The channel is message-oriented, so no framing
// applies. Channels are reliable and ordered unless the Config knobs
// say otherwise.
//
// Negotiation runs over a caller-provided signal.Signaler: Dial sends
// an offer and waits for the answer, Listen answers offers as they
// arrive, and concurrent negotiations are told apart by peer ID. Both
// sides signal vanilla ICE, with every candidate gathered before the
// description goes out; candidates trickled by foreign peers are still
// applied. Sessions negotiated elsewhere enter through Wrap.
//
// Outbound flow control rides the channel's buffered amount: Send
// waits below a high-water mark and surfaces WouldBlock when the ctx
// deadline passes first.
package webrtc

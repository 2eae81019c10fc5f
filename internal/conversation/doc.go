// Package conversation implements the emulated channel's conversation
// engine.
//
// # Overview
//
// A Conversation is a session between a simulated user and a bot endpoint
// with an ordered, append-only transcript. The Registry is the sole owner
// of live Conversation instances: at most one exists per conversation id,
// which is what keeps mutations of one conversation from interleaving.
//
// # Delivery paths
//
// Activities reach a transcript three ways and all converge on the same
// append:
//
//   - PostActivityToBot: user-originated activity, recorded first, then
//     delivered to the bot endpoint over HTTP. Synchronous replies in the
//     response body are appended with replyToId correlation.
//   - PostActivityToUser: bot-originated activity (asynchronous replies
//     arriving through the callback server, typing indicators), appended
//     and broadcast, no network call.
//   - FeedActivities: bulk replay from a .transcript or .chat file,
//     appended verbatim.
//
// # State machine
//
// Each conversation is Idle or AwaitingBotReply. A post while a reply is
// outstanding fails with ErrPostInFlight; a delivery failure keeps the
// outbound activity in the transcript (so the UI can mark it failed) and
// returns the conversation to Idle for retry.
//
// # Events
//
// The Broadcaster fans transcript events out to subscribers (the UI
// websocket layer): activity adds, delivery failures and conversation
// deletion.
package conversation

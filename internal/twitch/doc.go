// Package twitch talks to the Twitch Helix API on behalf of the watch engine.
//
// It provides three collaborators:
//   - CredentialManager: app access token (client credentials), invalidated on 401
//   - Resolver: login names to user ids, batched
//   - Poller: one batched live-status query for a set of user ids
//
// Every Helix call goes through call(), which retries exactly once after a 401
// with a freshly exchanged token.
package twitch

// Package state provides the TTL-bound conversational session store for Telegram bots.
// Entries are scoped by chat or user identity and expire on their own; an expired
// entry is indistinguishable from one that was never set.
package state

// Package relay resolves which relays hold an identity's records and fans
// queries out across them, merging partial responses into one result.
package relay

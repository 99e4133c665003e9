// Package wallet implements the multi-backend transaction signing and
// broadcast engine. A Selector detects which backend currently holds a
// usable key (hardware secure element, encrypted software key, or a
// remotely paired external wallet) and routes wallet operations to it;
// a Dispatcher orchestrates build, sign and broadcast with a bounded
// nonce-conflict retry.
//
// The hardware path uses a hybrid protocol: the transaction is hashed
// locally, only the hash crosses into the secure element, and the
// returned (r, s, publicKey) triple is reconciled back into a full
// signature by searching the closed recovery-identifier set {27, 28}.
package wallet

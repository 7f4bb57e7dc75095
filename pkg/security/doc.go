// Package security encrypts sensitive values kept in cluster records.
//
// The only such value today is the FreeIPA admin password terraform writes
// to its state. It is sealed with AES-256-GCM under a key derived from the
// configured secret_key and stored base64 encoded, nonce first.
package security

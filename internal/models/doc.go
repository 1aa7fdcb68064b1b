// Package models defines the data types shared by the record store, the
// signature lifecycle and the share gateway.
//
// Ciphertext-bearing types keep the AEAD nonce next to the bytes it seals.
// Times are UTC and persisted as Unix nanoseconds.
package models

// Package ir defines the opaque payload values carried by entities and
// operation results.
//
// Payloads are restricted to a small sealed set of value types so they can be
// compared structurally, merged field by field and hashed deterministically.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types: numbers are int64 so digests are stable
//   - Object keys are always emitted in UTF-16 code unit order
//   - Strings are NFC normalized at the canonical serialization boundary
package ir

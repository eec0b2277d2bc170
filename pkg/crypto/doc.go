// Package crypto implements the stone encryption engine.
//
// Command traffic uses AES-128-CTR inside a small envelope carrying a random
// packet nonce and the access level of the key used. The counter block mixes in
// the session nonce issued by the device at connect time, and the first four
// plaintext bytes carry the device's validation key as an integrity check.
//
// Broadcast traffic and the v5 session data block use AES-128-ECB. Outbound
// broadcasts are byte-reversed after encryption.
//
// The package also provides passphrase sealing used for key files on disk.
package crypto

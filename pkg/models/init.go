package models

import "time"

// InitData holds the vault initialization state stored in the database.
// UnsealCheck is a known plaintext encrypted under the KEK; a candidate
// root key is accepted only if it decrypts this value.
type InitData struct {
	KEKContext    string
	UnsealCheck   []byte
	InitializedAt time.Time
}

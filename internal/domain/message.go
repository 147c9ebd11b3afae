package domain

// Policy selects the output framing for a multi-recipient encrypt call
// (spec §4.7 "policy selection").
type Policy int

const (
	PolicyOptimizeUploadSize Policy = iota // default
	PolicyDRMessage
	PolicyCipherMessage
	PolicyOptimizeGlobalBandwidth
)

// RecipientStatus is the outcome for one recipient of an Encrypt call, or
// the trust status attached to a successful Decrypt.
type RecipientStatus int

const (
	RecipientOK RecipientStatus = iota
	RecipientFail
	RecipientUnsafe
	RecipientUnknown
	RecipientUntrusted
	RecipientTrusted
)

// RecipientResult is one entry of an EncryptionContext's recipient list,
// updated in place by Encrypt (spec §6).
type RecipientResult struct {
	DeviceID  string
	Status    RecipientStatus
	DRMessage []byte // serialized RatchetHeader + ciphertext payload for this recipient
	Err       error
}

// EncryptionContext is the input/output struct for Manager.Encrypt
// (spec §6).
type EncryptionContext struct {
	RecipientUserID string // used as AEAD associated data
	Recipients      []*RecipientResult
	Plaintext       []byte
	CipherMessage   []byte // output: populated only for cipher_message framing
	Policy          Policy
}

// DecryptedMessage is the result of a successful Manager.Decrypt call.
type DecryptedMessage struct {
	Plaintext []byte
	Status    RecipientStatus
}

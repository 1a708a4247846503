package handshake

// Mode selects which of the three handshake variants is in play. All
// three share the receiver-commitment check; the two passkey modes also
// check the sender fingerprint, which PIN mode skips; cross-user
// additionally checks the pairing key and handshake proof; self-transfer
// additionally checks session binding and key confirmation.
type Mode int

const (
	ModePIN Mode = iota
	ModeSelfTransferPasskey
	ModeCrossUserPairingKey
)

func (m Mode) String() string {
	switch m {
	case ModePIN:
		return "pin"
	case ModeSelfTransferPasskey:
		return "self_transfer_passkey"
	case ModeCrossUserPairingKey:
		return "cross_user_pairing_key"
	default:
		return "unknown"
	}
}

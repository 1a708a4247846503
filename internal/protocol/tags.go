package protocol

// Tag names used in rendezvous event envelopes.
const (
	TagHint         = "h"    // receiver-side filter hint, 8 or 16 hex
	TagTransferID   = "t"    // 16-hex transfer id
	TagSalt         = "s"    // base64(16 bytes), per-transfer PIN salt
	TagType         = "type" // event subtype
	TagExpiration   = "expiration"
	TagSeq          = "seq"  // 0 on the receiver's ready-ack; chunks use TagChunkIndex
	TagSenderFP     = "spk"  // sender fingerprint (passkey modes), 16 hex
	TagKeyConfirm   = "kc"   // base64(32 bytes)
	TagReceiverPKC  = "rpkc" // hex(32 chars), receiver public-ID commitment
	TagNonce        = "n"    // base64(16 bytes), replay nonce
	TagEphemeralKey = "epk"  // base64(65 bytes), uncompressed P-256 point
	TagSessionBind  = "esb"  // base64(32 bytes)
	TagChunkIndex   = "i"    // cloud-fallback chunk index
	TagChunkTotal   = "total"
	TagBlobURL      = "url"
	TagDirection    = "dir" // "offer" or "answer", direct-transport signal events
)

// Event "type" tag values.
const (
	TypePinExchange            = "pin_exchange"
	TypeMutualTrust            = "mutual_trust"
	TypeMutualTrustHandshake   = "mutual_trust_handshake"
	TypeMutualTrustPayload     = "mutual_trust_payload"
	TypeChunkNotify            = "chunk_notify"
	TypeAck                    = "ack"
	TypeSignal                 = "signal"
)

// Ready-ACK and completion sequence markers on data-kind events.
const (
	SeqReady      = 0
	SeqCompletion = -1
)

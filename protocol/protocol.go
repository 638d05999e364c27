package protocol

const (
	// KeychainPrefix namespaces locally stored key pairs by data owner id.
	KeychainPrefix = "org.taktik.icure.ehealth.keychain."

	// ValidityChallenge is encrypted with a published public key and must
	// decrypt back to itself with the matching local private key.
	ValidityChallenge = "shibboleth"

	// EntrySeparator joins the entity id and the secret (or parent id) inside
	// every encrypted delegation entry.
	EntrySeparator = ":"

	// ContentKeyLabel is the HKDF info string for entity content keys.
	ContentKeyLabel = "e2e delegation content key"

	// DataOwnerPath is the directory resource prefix served over HTTP.
	DataOwnerPath = "/dataowner/"

	// ExchangeKeysSuffix selects the reverse exchange-key index of a delegate.
	ExchangeKeysSuffix = "/aesExchangeKeys"

	JSONMediaType = "application/json"
)

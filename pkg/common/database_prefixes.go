package common

// Realms partition the shared key-value store. Every claim escrow store
// opens its own realm and never sees keys of the others.
const (
	StorePrefixLedger  byte = 0xFC
	StorePrefixCustody byte = 0xFD
	StorePrefixAudit   byte = 0xFE
)

package ledger

import (
	"github.com/iotaledger/hive.go/serializer/v2/marshalutil"
)

const (
	// Storage key prefixes
	StorePrefixRegistry  byte = 0
	StorePrefixClaim     byte = 1
	StorePrefixClaimCode byte = 2
	StorePrefixTicket    byte = 3
	StorePrefixCounter   byte = 4
)

// Counter identifies one of the monotonic registry statistics.
type Counter byte

const (
	CounterCreated   Counter = 1
	CounterFulfilled Counter = 2
	CounterExpired   Counter = 3
)

func idKey(prefix byte, id string) []byte {
	ms := marshalutil.New(1 + len(id))
	ms.WriteByte(prefix)
	ms.WriteBytes([]byte(id))

	return ms.Bytes()
}

func registryKey(registryID string) []byte {
	return idKey(StorePrefixRegistry, registryID)
}

func claimKey(claimID string) []byte {
	return idKey(StorePrefixClaim, claimID)
}

func ticketKey(ticketID string) []byte {
	return idKey(StorePrefixTicket, ticketID)
}

// registryScope is prefix || len(registryID) || registryID, so one registry's
// keys never share a prefix with another's.
func registryScope(prefix byte, registryID string) []byte {
	ms := marshalutil.New(3 + len(registryID))
	ms.WriteByte(prefix)
	ms.WriteUint16(uint16(len(registryID)))
	ms.WriteBytes([]byte(registryID))

	return ms.Bytes()
}

func claimCodeKey(registryID, claimHash string) []byte {
	scope := registryScope(StorePrefixClaimCode, registryID)
	ms := marshalutil.New(len(scope) + len(claimHash))
	ms.WriteBytes(scope)
	ms.WriteBytes([]byte(claimHash))

	return ms.Bytes()
}

func counterKey(registryID string, counter Counter) []byte {
	scope := registryScope(StorePrefixCounter, registryID)
	ms := marshalutil.New(len(scope) + 1)
	ms.WriteBytes(scope)
	ms.WriteByte(byte(counter))

	return ms.Bytes()
}

func encodeCounter(v uint64) []byte {
	return marshalutil.New(8).WriteUint64(v).Bytes()
}

func decodeCounter(data []byte) (uint64, error) {
	return marshalutil.New(data).ReadUint64()
}

// Lock names used by callers of Update.

func RegistryLock(registryID string) string { return "registry/" + registryID }

func ClaimLock(claimID string) string { return "claim/" + claimID }

func CodeLock(registryID, claimHash string) string { return "code/" + registryID + "/" + claimHash }

func TicketLock(ticketID string) string { return "ticket/" + ticketID }
